// Package importer orchestrates Steam import sessions: discovery, download,
// ingestion, progress, cancellation, and the terminal state machine.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"gamevault/internal/ingest"
	"gamevault/internal/models"
	"gamevault/internal/progress"
	"gamevault/internal/steam"
	"gamevault/internal/storage"
)

// ErrConflict is returned by Start when the Steam user already has a running
// session in this process.
var ErrConflict = errors.New("importer: an import is already running for this user")

// Scraper is the slice of the Steam client the engine drives. Tests inject
// stubs; production uses *steam.Scraper.
type Scraper interface {
	ValidateProfile(ctx context.Context) (*steam.Profile, error)
	DiscoverGames(ctx context.Context) ([]steam.GameInfo, error)
	EnumerateScreenshots(ctx context.Context, appID int64) ([]steam.ScreenshotRef, error)
	FetchDetails(ctx context.Context, ref *steam.ScreenshotRef) error
	DownloadImage(ctx context.Context, url string) ([]byte, string, error)
}

// ScraperFactory builds a scraper bound to one session's credentials.
type ScraperFactory func(creds steam.Credentials) Scraper

// Engine runs at most one session per Steam user; sessions for distinct
// users run concurrently and share the global rate limiter inside their
// scrapers.
type Engine struct {
	store      *storage.Storage
	worker     *ingest.Worker
	bus        *progress.Bus
	newScraper ScraperFactory

	mu       sync.Mutex
	byUser   map[string]*session
	sessions map[int64]*session
}

type session struct {
	id     int64
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(store *storage.Storage, worker *ingest.Worker, bus *progress.Bus, factory ScraperFactory) *Engine {
	return &Engine{
		store:      store,
		worker:     worker,
		bus:        bus,
		newScraper: factory,
		byUser:     make(map[string]*session),
		sessions:   make(map[int64]*session),
	}
}

// Start creates a session row, registers the topic, and launches the
// pipeline goroutine. It returns immediately with the session id.
func (e *Engine) Start(creds steam.Credentials, appIDs []int64) (int64, error) {
	const op = "importer.Start"

	e.mu.Lock()
	if _, busy := e.byUser[creds.UserID]; busy {
		e.mu.Unlock()
		return 0, ErrConflict
	}

	id, err := e.store.CreateImportSession(creds.UserID)
	if err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("%s: %v", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: id, userID: creds.UserID, cancel: cancel, done: make(chan struct{})}
	e.byUser[creds.UserID] = sess
	e.sessions[id] = sess
	e.mu.Unlock()

	e.bus.Open(id)

	go e.run(ctx, sess, creds, appIDs)
	return id, nil
}

// Cancel flips the session's cancellation signal and waits for the pipeline
// to observe it and finish. The wait is bounded by one in-flight download
// plus one ingest. Unknown or finished sessions are a no-op.
func (e *Engine) Cancel(sessionID int64) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	<-sess.done
}

// Subscribe attaches to a live session's event stream, backlog first. ok is
// false when the session is not running in this process; callers replay the
// durable event log instead.
func (e *Engine) Subscribe(sessionID int64) (*progress.Subscription, bool) {
	return e.bus.Subscribe(sessionID)
}

// Unsubscribe detaches a live subscriber without affecting the session.
func (e *Engine) Unsubscribe(sessionID int64, sub *progress.Subscription) {
	e.bus.Unsubscribe(sessionID, sub)
}

// ── Pipeline ─────────────────────────────────────────────────────────────────

// tally accumulates session counters. Each screenshot increments exactly one
// field.
type tally struct {
	completed int
	skipped   int
	failed    int
}

func (t tally) processed() int { return t.completed + t.skipped + t.failed }

func (e *Engine) run(ctx context.Context, sess *session, creds steam.Credentials, appIDs []int64) {
	defer func() {
		e.mu.Lock()
		delete(e.byUser, sess.userID)
		delete(e.sessions, sess.id)
		e.mu.Unlock()
		close(sess.done)
	}()

	var overall tally
	totalGames := 0

	// finish latches the terminal state exactly once and always emits the
	// done sentinel last.
	finish := func(status, errMsg string) {
		if err := e.store.FinishImportSession(sess.id, status, overall.completed, overall.skipped, overall.failed, errMsg); err != nil {
			log.Printf("import %d: persisting terminal state: %v", sess.id, err)
		}
		switch status {
		case models.StatusCancelled:
			e.emit(sess.id, progress.KindImportCancelled, nil)
		case models.StatusFailed:
			e.emit(sess.id, progress.KindImportError, progress.ImportErrorPayload{Error: errMsg})
		default:
			e.emit(sess.id, progress.KindImportComplete, progress.ImportCompletePayload{
				Completed:  overall.completed,
				Skipped:    overall.skipped,
				Failed:     overall.failed,
				TotalGames: totalGames,
			})
		}
		e.emit(sess.id, progress.KindDone, nil)
		e.bus.Release(sess.id)
	}

	scraper := e.newScraper(creds)

	e.emit(sess.id, progress.KindStatus, progress.StatusPayload{Message: "Validating Steam profile..."})

	profile, err := scraper.ValidateProfile(ctx)
	if err != nil {
		finish(e.classifySessionErr(ctx, err))
		return
	}
	e.emit(sess.id, progress.KindProfileValidated, progress.ProfileValidatedPayload{
		ProfileName: profile.ProfileName,
		AvatarURL:   profile.AvatarURL,
	})

	e.emit(sess.id, progress.KindStatus, progress.StatusPayload{Message: "Discovering games..."})

	games, err := scraper.DiscoverGames(ctx)
	if err != nil {
		finish(e.classifySessionErr(ctx, err))
		return
	}
	games = filterGames(games, appIDs)
	if len(games) == 0 {
		finish(models.StatusFailed, "no matching games with screenshots found")
		return
	}
	totalGames = len(games)

	totalScreenshots := 0
	for _, g := range games {
		totalScreenshots += g.ScreenshotCount
	}
	if err := e.store.SetSessionTotals(sess.id, totalGames, totalScreenshots); err != nil {
		log.Printf("import %d: %v", sess.id, err)
	}
	e.emit(sess.id, progress.KindGamesDiscovered, progress.GamesDiscoveredPayload{
		TotalGames:       totalGames,
		TotalScreenshots: totalScreenshots,
	})

	for _, gameInfo := range games {
		if ctx.Err() != nil {
			finish(models.StatusCancelled, "")
			return
		}

		game, err := e.store.GetOrCreateGame(gameInfo.Name, &gameInfo.AppID)
		if err != nil {
			finish(models.StatusFailed, fmt.Sprintf("creating game %s: %v", gameInfo.Name, err))
			return
		}
		e.emit(sess.id, progress.KindGameStart, progress.GameStartPayload{
			AppID: gameInfo.AppID,
			Name:  gameInfo.Name,
		})

		gameTally, fatalErr := e.importGame(ctx, sess.id, scraper, gameInfo, game, &overall)
		if fatalErr != nil {
			if ctx.Err() != nil {
				finish(models.StatusCancelled, "")
			} else {
				finish(models.StatusFailed, fatalErr.Error())
			}
			return
		}

		if err := e.store.RefreshGameStats(game.ID); err != nil {
			log.Printf("import %d: refreshing stats for game %d: %v", sess.id, game.ID, err)
		}
		e.emit(sess.id, progress.KindGameComplete, progress.GameCompletePayload{
			AppID:            gameInfo.AppID,
			Completed:        gameTally.completed,
			Skipped:          gameTally.skipped,
			Failed:           gameTally.failed,
			OverallCompleted: overall.completed,
			OverallSkipped:   overall.skipped,
			OverallFailed:    overall.failed,
		})

		if ctx.Err() != nil {
			finish(models.StatusCancelled, "")
			return
		}
	}

	finish(models.StatusCompleted, "")
}

// importGame runs the serial per-screenshot loop for one game. A returned
// error is session-fatal; per-game failures are reported via game_error and
// swallowed.
func (e *Engine) importGame(ctx context.Context, sessionID int64, scraper Scraper, info steam.GameInfo, game *models.Game, overall *tally) (tally, error) {
	var t tally

	refs, err := scraper.EnumerateScreenshots(ctx, info.AppID)
	if err != nil {
		if ctx.Err() != nil || steam.IsAuthRequired(err) {
			return t, e.sessionErr(ctx, err)
		}
		e.emit(sessionID, progress.KindGameError, progress.GameErrorPayload{
			AppID: info.AppID,
			Error: err.Error(),
		})
		return t, nil
	}

	for i := range refs {
		if ctx.Err() != nil {
			return t, nil
		}
		ref := &refs[i]

		outcome, err := e.importScreenshot(ctx, scraper, ref, game)
		if err != nil {
			if ctx.Err() != nil || steam.IsAuthRequired(err) {
				return t, e.sessionErr(ctx, err)
			}
			if isSessionFatal(err) {
				return t, err
			}
			t.failed++
			overall.failed++
			e.emit(sessionID, progress.KindScreenshotFailed, progress.ScreenshotFailedPayload{
				GameName: info.Name,
				Error:    err.Error(),
			})
		} else {
			switch o := outcome.(type) {
			case ingest.Completed:
				t.completed++
				overall.completed++
				e.emit(sessionID, progress.KindScreenshotComplete, progress.ScreenshotCompletePayload{
					GameName:        info.Name,
					OverallProgress: overall.processed(),
				})
			case ingest.Skipped:
				t.skipped++
				overall.skipped++
				e.emit(sessionID, progress.KindScreenshotSkipped, progress.ScreenshotSkippedPayload{
					GameName: info.Name,
					Reason:   o.Reason,
				})
			}
		}

		if err := e.store.UpdateSessionCounters(sessionID, overall.completed, overall.skipped, overall.failed); err != nil {
			log.Printf("import %d: updating counters: %v", sessionID, err)
		}
	}
	return t, nil
}

// importScreenshot resolves the full-resolution URL, downloads, and ingests
// one screenshot.
func (e *Engine) importScreenshot(ctx context.Context, scraper Scraper, ref *steam.ScreenshotRef, game *models.Game) (ingest.Outcome, error) {
	// The grid-derived URL is a guess; the detail page is authoritative and
	// also carries the description and date. A detail failure only costs
	// metadata when the grid URL still works.
	if err := scraper.FetchDetails(ctx, ref); err != nil {
		if ctx.Err() != nil || steam.IsAuthRequired(err) {
			return nil, err
		}
		log.Printf("screenshot %s: detail fetch failed: %v", ref.SteamID, err)
	}

	imageURL := ref.FullImageURL
	if imageURL == "" {
		imageURL = ref.ThumbURL
	}
	if imageURL == "" {
		return nil, fmt.Errorf("screenshot %s: %w", ref.SteamID, errNoImageURL)
	}

	data, _, err := scraper.DownloadImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	return e.worker.Ingest(ctx, ingest.Input{
		Bytes:             data,
		Source:            models.SourceSteamImport,
		GameID:            game.ID,
		ClaimedFilename:   fmt.Sprintf("steam_%s", ref.SteamID),
		SteamScreenshotID: ref.SteamID,
		SteamDescription:  ref.Description,
		TakenAt:           ref.TakenAt,
	})
}

// ── Error classification ─────────────────────────────────────────────────────

func (e *Engine) classifySessionErr(ctx context.Context, err error) (string, string) {
	if ctx.Err() != nil {
		return models.StatusCancelled, ""
	}
	if steam.IsAuthRequired(err) {
		return models.StatusFailed, "auth_required"
	}
	return models.StatusFailed, err.Error()
}

func (e *Engine) sessionErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if steam.IsAuthRequired(err) {
		return fmt.Errorf("auth_required")
	}
	return err
}

var errNoImageURL = errors.New("no image URL")

// isSessionFatal separates environment failures (storage writes, disk) from
// per-item problems (bad image bytes, ingest timeout, scraper errors that
// survived retries, missing image URL).
func isSessionFatal(err error) bool {
	var se *steam.Error
	switch {
	case errors.Is(err, ingest.ErrBadImage),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, errNoImageURL),
		errors.As(err, &se):
		return false
	}
	return true
}

func filterGames(games []steam.GameInfo, appIDs []int64) []steam.GameInfo {
	if len(appIDs) == 0 {
		return games
	}
	want := make(map[int64]bool, len(appIDs))
	for _, id := range appIDs {
		want[id] = true
	}
	var out []steam.GameInfo
	for _, g := range games {
		if want[g.AppID] {
			out = append(out, g)
		}
	}
	return out
}

func (e *Engine) emit(sessionID int64, kind string, payload any) {
	if _, err := e.bus.Publish(sessionID, kind, payload); err != nil {
		log.Printf("import %d: publishing %s: %v", sessionID, kind, err)
	}
}
