package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gamevault/internal/ingest"
	"gamevault/internal/models"
)

// uploadEvent mirrors the event shape the web UI's upload dialog consumes.
type uploadEvent struct {
	Type         string `json:"type"`
	FileIndex    int    `json:"file_index,omitempty"`
	Filename     string `json:"filename,omitempty"`
	TotalFiles   int    `json:"total_files,omitempty"`
	Completed    int    `json:"completed,omitempty"`
	ScreenshotID int64  `json:"screenshot_id,omitempty"`
	GameName     string `json:"game_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// uploadTracker holds per-task event channels for SSE progress. Upload tasks
// are single-subscriber and ephemeral, unlike import sessions.
type uploadTracker struct {
	mu    sync.Mutex
	tasks map[string]chan uploadEvent
}

func newUploadTracker() *uploadTracker {
	return &uploadTracker{tasks: make(map[string]chan uploadEvent)}
}

func (t *uploadTracker) create(taskID string) chan uploadEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan uploadEvent, 64)
	t.tasks[taskID] = ch
	return ch
}

func (t *uploadTracker) get(taskID string) (chan uploadEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.tasks[taskID]
	return ch, ok
}

func (t *uploadTracker) remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

// handleUpload ingests one or more screenshot files through the same worker
// as the Steam import. Returns a task id for SSE progress tracking.
func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	gameID, err := parseFormInt64(c, "game_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "game_id is required"})
		return
	}

	game, err := s.db.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if game == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	maxSize := s.cfg.MaxUploadSizeBytes()
	for _, fh := range files {
		if fh.Size > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("file %s exceeds max size of %dMB", fh.Filename, s.cfg.MaxUploadSizeMB),
			})
			return
		}
	}

	var takenAt *time.Time
	if raw := c.PostForm("taken_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			takenAt = &t
		}
	}

	// Buffer the payloads before returning; the request body is gone once
	// the handler exits.
	type pending struct {
		name string
		data []byte
	}
	batch := make([]pending, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
			return
		}
		batch = append(batch, pending{name: fh.Filename, data: data})
	}

	taskID := uuid.New().String()
	ch := s.uploads.create(taskID)

	go func() {
		defer close(ch)

		emit := func(ev uploadEvent) {
			select {
			case ch <- ev:
			default:
				// Nobody is draining; drop rather than stall the ingest.
			}
		}

		emit(uploadEvent{Type: "start", TotalFiles: len(batch), GameName: game.Name})

		completed := 0
		for i, p := range batch {
			emit(uploadEvent{Type: "file_start", FileIndex: i, Filename: p.name, TotalFiles: len(batch)})

			claimed := uploadFilename(game.Name, takenAt)
			outcome, err := s.worker.Ingest(context.Background(), ingest.Input{
				Bytes:           p.data,
				Source:          models.SourceUpload,
				GameID:          gameID,
				ClaimedFilename: claimed,
				TakenAt:         takenAt,
			})
			if err != nil {
				log.Printf("upload %s: %s: %v", taskID, p.name, err)
				emit(uploadEvent{Type: "file_error", FileIndex: i, Filename: p.name, Error: err.Error()})
				continue
			}
			switch o := outcome.(type) {
			case ingest.Completed:
				completed++
				emit(uploadEvent{
					Type: "file_complete", FileIndex: i, Filename: p.name,
					ScreenshotID: o.ScreenshotID, TotalFiles: len(batch), Completed: completed,
				})
			case ingest.Skipped:
				emit(uploadEvent{Type: "file_skipped", FileIndex: i, Filename: p.name, Reason: o.Reason})
			}
		}

		if err := s.db.RefreshGameStats(gameID); err != nil {
			log.Printf("upload %s: refreshing stats: %v", taskID, err)
		}
		emit(uploadEvent{Type: "complete", TotalFiles: len(batch), Completed: completed})
	}()

	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "file_count": len(batch)})
}

// uploadFilename builds the canonical upload name; the ingest worker
// supplies the extension and resolves collisions.
func uploadFilename(gameName string, takenAt *time.Time) string {
	ts := time.Now()
	if takenAt != nil {
		ts = *takenAt
	}
	if len(gameName) > 60 {
		gameName = gameName[:60]
	}
	return fmt.Sprintf("%s %s", gameName, ts.Format("2006_01_02 15_04"))
}

// handleUploadProgress streams upload task events over SSE until complete.
func (s *Server) handleUploadProgress(c *gin.Context) {
	taskID := c.Param("task_id")
	ch, ok := s.uploads.get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload task not found"})
		return
	}
	defer s.uploads.remove(taskID)

	sseHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	ctx := c.Request.Context()
	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("upload %s: %v", taskID, err)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
			if ev.Type == "complete" {
				return
			}
		case <-keepalive.C:
			io.WriteString(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func parseFormInt64(c *gin.Context, field string) (int64, error) {
	raw := c.PostForm(field)
	if raw == "" {
		return 0, errors.New("missing " + field)
	}
	var v int64
	if _, err := fmt.Sscan(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
