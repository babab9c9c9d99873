// Package progress implements the per-session import event topic and its
// subscriber streams.
package progress

// Event kinds published by the import engine.
const (
	KindStatus             = "status"
	KindProfileValidated   = "profile_validated"
	KindGamesDiscovered    = "games_discovered"
	KindGameStart          = "game_start"
	KindScreenshotComplete = "screenshot_complete"
	KindScreenshotSkipped  = "screenshot_skipped"
	KindScreenshotFailed   = "screenshot_failed"
	KindGameComplete       = "game_complete"
	KindGameError          = "game_error"
	KindImportComplete     = "import_complete"
	KindImportCancelled    = "import_cancelled"
	KindImportError        = "import_error"
	KindDone               = "done"
)

// Event is one entry in a session's totally ordered progress stream. Data is
// the payload already marshalled to JSON.
type Event struct {
	Seq  int64
	Kind string
	Data string
}

// Terminal reports whether the event must never be dropped from a slow
// subscriber's queue.
func Terminal(kind string) bool {
	switch kind {
	case KindImportComplete, KindImportCancelled, KindImportError, KindDone:
		return true
	}
	return false
}

// Payload field sets for each kind, kept as plain structs so the SSE layer
// and the tests share one shape.

type StatusPayload struct {
	Message string `json:"message"`
}

type ProfileValidatedPayload struct {
	ProfileName string `json:"profile_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type GamesDiscoveredPayload struct {
	TotalGames       int `json:"total_games"`
	TotalScreenshots int `json:"total_screenshots"`
}

type GameStartPayload struct {
	AppID int64  `json:"app_id"`
	Name  string `json:"name"`
}

type ScreenshotCompletePayload struct {
	GameName        string `json:"game_name"`
	OverallProgress int    `json:"overall_progress"`
}

type ScreenshotSkippedPayload struct {
	GameName string `json:"game_name"`
	Reason   string `json:"reason"`
}

type ScreenshotFailedPayload struct {
	GameName string `json:"game_name"`
	Error    string `json:"error"`
}

type GameCompletePayload struct {
	AppID            int64 `json:"app_id"`
	Completed        int   `json:"completed"`
	Skipped          int   `json:"skipped"`
	Failed           int   `json:"failed"`
	OverallCompleted int   `json:"overall_completed"`
	OverallSkipped   int   `json:"overall_skipped"`
	OverallFailed    int   `json:"overall_failed"`
}

type GameErrorPayload struct {
	AppID int64  `json:"app_id"`
	Error string `json:"error"`
}

type ImportCompletePayload struct {
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	TotalGames int `json:"total_games"`
}

type ImportErrorPayload struct {
	Error string `json:"error"`
}
