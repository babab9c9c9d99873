// Package ingest turns raw image bytes plus source metadata into a persisted
// screenshot: originals, thumbnails, and the database row. Shared by the
// Steam import pipeline and manual uploads.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gamevault/internal/library"
	"gamevault/internal/models"
	"gamevault/internal/storage"
)

const ingestTimeout = 30 * time.Second

// ErrBadImage marks failures caused by the input bytes themselves
// (unrecognized or undecodable images). Callers treat these as per-item
// failures. A context error means the unit timed out or was cancelled; any
// other ingest error is an environment problem.
var ErrBadImage = errors.New("ingest: invalid image")

// Skip reasons reported in Skipped outcomes.
const (
	ReasonDuplicateID        = "already_imported"
	ReasonDuplicateHash      = "duplicate_hash"
	ReasonDuplicateHashRaced = "duplicate_hash_raced"
)

// Input describes one image to ingest.
type Input struct {
	Bytes             []byte
	Source            string
	GameID            int64
	ClaimedFilename   string
	SteamScreenshotID string
	SteamDescription  string
	TakenAt           *time.Time
}

// Outcome is the closed result set of an ingest: Completed or Skipped.
// Failures are ordinary errors.
type Outcome interface{ isOutcome() }

type Completed struct {
	ScreenshotID int64
}

type Skipped struct {
	Reason string
}

func (Completed) isOutcome() {}
func (Skipped) isOutcome()   {}

// Worker validates, deduplicates, writes, and records screenshots. It never
// publishes progress itself; callers own the event stream.
type Worker struct {
	store   *storage.Storage
	lib     *library.Library
	quality int
}

func NewWorker(store *storage.Storage, lib *library.Library, thumbQuality int) *Worker {
	if thumbQuality <= 0 || thumbQuality > 100 {
		thumbQuality = 85
	}
	return &Worker{store: store, lib: lib, quality: thumbQuality}
}

// Ingest runs the full unit of work under a 30s wall clock. On any failure
// after files are written, everything written is removed before returning;
// there is never a row without files or files without a row.
func (w *Worker) Ingest(ctx context.Context, in Input) (Outcome, error) {
	const op = "ingest.Ingest"

	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	format, ext, ok := sniffFormat(in.Bytes)
	if !ok {
		return nil, fmt.Errorf("%s: %w: unrecognized format", op, ErrBadImage)
	}

	sum := sha256.Sum256(in.Bytes)
	fileHash := hex.EncodeToString(sum[:])

	// Dedup order matters: the Steam id check is cheaper and its skip
	// reason more specific than a content-hash match.
	if in.SteamScreenshotID != "" {
		dup, err := w.store.HasSteamScreenshot(in.GameID, in.SteamScreenshotID)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		if dup {
			return Skipped{Reason: ReasonDuplicateID}, nil
		}
	}
	dup, err := w.store.HasFileHash(in.GameID, fileHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if dup {
		return Skipped{Reason: ReasonDuplicateHash}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(in.Bytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrBadImage, err)
	}
	bounds := img.Bounds()

	exifRaw, exifTaken := extractExif(in.Bytes)
	takenAt := in.TakenAt
	if takenAt == nil {
		takenAt = exifTaken
	}

	game, err := w.store.GetGame(in.GameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if game == nil {
		return nil, fmt.Errorf("%s: game %d not found", op, in.GameID)
	}

	filename := canonicalFilename(in.ClaimedFilename, ext)
	filename = w.lib.UniqueFilename(game.FolderName, filename, fileHash)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	origAbs := w.lib.OriginalPath(game.FolderName, filename)
	if err := w.lib.WriteFile(origAbs, in.Bytes); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	cleanup := func() {
		w.lib.Remove(origAbs)
		w.lib.Remove(w.lib.ThumbPath(game.FolderName, stem, "sm"))
		w.lib.Remove(w.lib.ThumbPath(game.FolderName, stem, "md"))
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, err
	}

	thumbSm, thumbMd, err := w.lib.GenerateThumbnails(img, game.FolderName, stem, w.quality)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	sc := &models.Screenshot{
		GameID:      in.GameID,
		Filename:    filename,
		FilePath:    w.lib.RelPath(origAbs),
		ThumbSmPath: &thumbSm,
		ThumbMdPath: &thumbMd,
		FileSize:    int64(len(in.Bytes)),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Format:      format,
		TakenAt:     takenAt,
		Source:      in.Source,
		FileHash:    fileHash,
	}
	if in.SteamScreenshotID != "" {
		sc.SteamScreenshotID = &in.SteamScreenshotID
	}
	if in.SteamDescription != "" {
		sc.SteamDescription = &in.SteamDescription
	}
	if exifRaw != "" {
		sc.ExifData = &exifRaw
	}

	id, err := w.store.CreateScreenshot(sc)
	if err != nil {
		cleanup()
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost an insert race on (game_id, sha256_hash).
			return Skipped{Reason: ReasonDuplicateHashRaced}, nil
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return Completed{ScreenshotID: id}, nil
}

// canonicalFilename sanitizes the claimed name and forces the extension that
// matches the detected format.
func canonicalFilename(claimed, ext string) string {
	name := library.SanitizeFilename(claimed)
	if old := filepath.Ext(name); old != "" {
		name = strings.TrimSuffix(name, old)
	}
	return name + ext
}

// sniffFormat identifies the image container from magic bytes.
func sniffFormat(data []byte) (format, ext string, ok bool) {
	switch {
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return "jpeg", ".jpg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "png", ".png", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", ".webp", true
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "bmp", ".bmp", true
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return "tiff", ".tiff", true
	}
	return "", "", false
}
