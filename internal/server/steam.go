package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gamevault/internal/importer"
	"gamevault/internal/models"
	"gamevault/internal/progress"
	"gamevault/internal/steam"
)

const sseKeepalive = 30 * time.Second

func credsFromValidate(req *models.SteamValidateRequest) steam.Credentials {
	return steam.Credentials{
		UserID:           req.UserID,
		SteamLoginSecure: req.SteamLoginSecure,
		SessionID:        req.SessionID,
	}
}

// handleSteamValidate checks that a profile exists and is readable with the
// supplied cookies. No side effects.
func (s *Server) handleSteamValidate(c *gin.Context) {
	var req models.SteamValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scraper := s.newScraper(credsFromValidate(&req))
	profile, err := scraper.ValidateProfile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, models.SteamValidateResponse{
			Valid: false,
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SteamValidateResponse{
		Valid:       true,
		ProfileName: profile.ProfileName,
		AvatarURL:   profile.AvatarURL,
		IsNumericID: profile.IsNumericID,
	})
}

// handleSteamGames lists the profile's games that have screenshots.
func (s *Server) handleSteamGames(c *gin.Context) {
	var req models.SteamValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scraper := s.newScraper(credsFromValidate(&req))
	games, err := scraper.DiscoverGames(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := make([]models.SteamGameInfo, 0, len(games))
	for _, g := range games {
		out = append(out, models.SteamGameInfo{
			AppID:           g.AppID,
			Name:            g.Name,
			ScreenshotCount: g.ScreenshotCount,
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleSteamImport starts an asynchronous import session.
func (s *Server) handleSteamImport(c *gin.Context) {
	var req models.SteamImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds := steam.Credentials{
		UserID:           req.UserID,
		SteamLoginSecure: req.SteamLoginSecure,
		SessionID:        req.SessionID,
		IsNumericID:      req.IsNumericID,
	}

	sessionID, err := s.engine.Start(creds, req.GameIDs)
	if err != nil {
		if errors.Is(err, importer.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// handleSteamSession returns the current session row.
func (s *Server) handleSteamSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	sess, err := s.db.GetImportSession(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleSteamProgress streams the session's events over SSE. Live sessions
// stream backlog-then-live; finished sessions replay the durable event log.
func (s *Server) handleSteamProgress(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := s.db.GetImportSession(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}

	sub, live := s.engine.Subscribe(id)
	if !live {
		s.replayDurable(c, id)
		return
	}
	defer s.engine.Unsubscribe(id, sub)

	sseHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	ctx := c.Request.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, sseKeepalive)
		ev, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			writeSSE(c.Writer, ev.Kind, ev.Data)
			flusher.Flush()
			if ev.Kind == progress.KindDone {
				return
			}
		case errors.Is(err, progress.ErrClosed):
			return
		case ctx.Err() != nil:
			// Client went away; the session keeps running.
			return
		default:
			// Keepalive tick.
			io.WriteString(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// replayDurable streams the persisted event log of a session that is not
// live in this process, then closes.
func (s *Server) replayDurable(c *gin.Context, sessionID int64) {
	events, err := s.db.ListImportEvents(sessionID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sseHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	for _, ev := range events {
		writeSSE(c.Writer, ev.Kind, ev.Payload)
		flusher.Flush()
	}
	// An interrupted session (process crash) has no done row; close the
	// stream with the sentinel either way.
	if len(events) == 0 || events[len(events)-1].Kind != progress.KindDone {
		writeSSE(c.Writer, progress.KindDone, "{}")
		flusher.Flush()
	}
}

// handleSteamCancel requests cooperative cancellation and waits for the
// session to latch it.
func (s *Server) handleSteamCancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	sess, err := s.db.GetImportSession(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}

	s.engine.Cancel(id)
	c.Status(http.StatusNoContent)
}

// ── SSE plumbing ─────────────────────────────────────────────────────────────

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func writeSSE(w io.Writer, kind, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
}
