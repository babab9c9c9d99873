package models

import "time"

// Screenshot sources.
const (
	SourceUpload      = "upload"
	SourceSteamImport = "steam_import"
	SourceSteamLocal  = "steam_local"
)

// Import session statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type Game struct {
	ID                  int64      `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	FolderName          string     `db:"folder_name" json:"folder_name"`
	SteamAppID          *int64     `db:"steam_app_id" json:"steam_app_id,omitempty"`
	CoverPath           *string    `db:"cover_path" json:"cover_path,omitempty"`
	IsPublic            bool       `db:"is_public" json:"is_public"`
	ScreenshotCount     int        `db:"screenshot_count" json:"screenshot_count"`
	FirstScreenshotDate *time.Time `db:"first_screenshot_date" json:"first_screenshot_date,omitempty"`
	LastScreenshotDate  *time.Time `db:"last_screenshot_date" json:"last_screenshot_date,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

type Screenshot struct {
	ID                int64      `db:"id" json:"id"`
	GameID            int64      `db:"game_id" json:"game_id"`
	Filename          string     `db:"filename" json:"filename"`
	FilePath          string     `db:"file_path" json:"file_path"`
	ThumbSmPath       *string    `db:"thumb_sm_path" json:"thumb_sm_path,omitempty"`
	ThumbMdPath       *string    `db:"thumb_md_path" json:"thumb_md_path,omitempty"`
	FileSize          int64      `db:"file_size" json:"file_size"`
	Width             int        `db:"width" json:"width"`
	Height            int        `db:"height" json:"height"`
	Format            string     `db:"format" json:"format"`
	TakenAt           *time.Time `db:"taken_at" json:"taken_at,omitempty"`
	UploadedAt        time.Time  `db:"uploaded_at" json:"uploaded_at"`
	SteamScreenshotID *string    `db:"steam_screenshot_id" json:"steam_screenshot_id,omitempty"`
	SteamDescription  *string    `db:"steam_description" json:"steam_description,omitempty"`
	Source            string     `db:"source" json:"source"`
	FileHash          string     `db:"sha256_hash" json:"sha256_hash"`
	ExifData          *string    `db:"exif_data" json:"exif_data,omitempty"`
	IsFavorite        bool       `db:"is_favorite" json:"is_favorite"`
	ViewCount         int        `db:"view_count" json:"view_count"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

type ImportSession struct {
	ID               int64      `db:"id" json:"id"`
	SteamUserID      string     `db:"steam_user_id" json:"steam_user_id"`
	Status           string     `db:"status" json:"status"`
	TotalGames       int        `db:"total_games" json:"total_games"`
	TotalScreenshots int        `db:"total_screenshots" json:"total_screenshots"`
	Completed        int        `db:"completed_screenshots" json:"completed"`
	Skipped          int        `db:"skipped_screenshots" json:"skipped"`
	Failed           int        `db:"failed_screenshots" json:"failed"`
	LastError        *string    `db:"last_error" json:"last_error,omitempty"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// ImportEvent is a durably persisted progress event. Seq is monotonic per
// session; the row mirrors what live SSE subscribers receive.
type ImportEvent struct {
	SessionID int64     `db:"session_id" json:"session_id"`
	Seq       int64     `db:"seq" json:"seq"`
	Kind      string    `db:"kind" json:"kind"`
	Payload   string    `db:"payload_json" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ── Steam API request/response shapes ────────────────────────────────────────

type SteamValidateRequest struct {
	UserID           string `json:"user_id" binding:"required"`
	SteamLoginSecure string `json:"steam_login_secure"`
	SessionID        string `json:"session_id"`
}

type SteamValidateResponse struct {
	Valid       bool   `json:"valid"`
	ProfileName string `json:"profile_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsNumericID bool   `json:"is_numeric_id"`
	Error       string `json:"error,omitempty"`
}

type SteamImportRequest struct {
	UserID           string  `json:"user_id" binding:"required"`
	SteamLoginSecure string  `json:"steam_login_secure"`
	SessionID        string  `json:"session_id"`
	GameIDs          []int64 `json:"game_ids"`
	IsNumericID      bool    `json:"is_numeric_id"`
}

type SteamGameInfo struct {
	AppID           int64  `json:"app_id"`
	Name            string `json:"name"`
	ScreenshotCount int    `json:"screenshot_count"`
}
