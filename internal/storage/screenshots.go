package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"gamevault/internal/models"
)

// ErrDuplicate is returned when a screenshot insert loses a race on one of
// the per-game unique indexes (steam id or content hash).
var ErrDuplicate = errors.New("storage: duplicate screenshot")

const screenshotColumns = `id, game_id, filename, file_path, thumb_sm_path, thumb_md_path,
	file_size, width, height, format, taken_at, uploaded_at,
	steam_screenshot_id, steam_description, source, sha256_hash, exif_data,
	is_favorite, view_count, created_at, updated_at`

func scanScreenshot(row interface{ Scan(...any) error }) (*models.Screenshot, error) {
	var sc models.Screenshot
	var thumbSm, thumbMd, steamID, steamDesc, exif sql.NullString
	var takenAt sql.NullTime

	err := row.Scan(&sc.ID, &sc.GameID, &sc.Filename, &sc.FilePath, &thumbSm, &thumbMd,
		&sc.FileSize, &sc.Width, &sc.Height, &sc.Format, &takenAt, &sc.UploadedAt,
		&steamID, &steamDesc, &sc.Source, &sc.FileHash, &exif,
		&sc.IsFavorite, &sc.ViewCount, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if thumbSm.Valid {
		sc.ThumbSmPath = &thumbSm.String
	}
	if thumbMd.Valid {
		sc.ThumbMdPath = &thumbMd.String
	}
	if takenAt.Valid {
		sc.TakenAt = &takenAt.Time
	}
	if steamID.Valid {
		sc.SteamScreenshotID = &steamID.String
	}
	if steamDesc.Valid {
		sc.SteamDescription = &steamDesc.String
	}
	if exif.Valid {
		sc.ExifData = &exif.String
	}
	return &sc, nil
}

// CreateScreenshot inserts a row and syncs the FTS content table. A
// unique-constraint violation maps to ErrDuplicate so the caller can treat it
// as a raced dedup. If the FTS sync fails the row is deleted again, so an
// error never leaves a row behind.
func (s *Storage) CreateScreenshot(sc *models.Screenshot) (int64, error) {
	const op = "storage.CreateScreenshot"

	res, err := s.db.Exec(`
		INSERT INTO screenshots (game_id, filename, file_path, thumb_sm_path, thumb_md_path,
			file_size, width, height, format, taken_at,
			steam_screenshot_id, steam_description, source, sha256_hash, exif_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.GameID, sc.Filename, sc.FilePath, sc.ThumbSmPath, sc.ThumbMdPath,
		sc.FileSize, sc.Width, sc.Height, sc.Format, sc.TakenAt,
		sc.SteamScreenshotID, sc.SteamDescription, sc.Source, sc.FileHash, sc.ExifData)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("%s: %v", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	sc.ID = id

	if err := s.syncFTS(id); err != nil {
		if _, delErr := s.db.Exec(`DELETE FROM screenshots WHERE id = ?`, id); delErr != nil {
			return 0, fmt.Errorf("%s: %v (removing row: %v)", op, err, delErr)
		}
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *Storage) GetScreenshot(id int64) (*models.Screenshot, error) {
	const op = "storage.GetScreenshot"
	sc, err := scanScreenshot(s.db.QueryRow(
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return sc, nil
}

func (s *Storage) ListScreenshotsByGame(gameID int64) ([]*models.Screenshot, error) {
	const op = "storage.ListScreenshotsByGame"
	rows, err := s.db.Query(
		`SELECT `+screenshotColumns+` FROM screenshots WHERE game_id = ? ORDER BY taken_at DESC, id DESC`,
		gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	var out []*models.Screenshot
	for rows.Next() {
		sc, err := scanScreenshot(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteScreenshot(id int64) error {
	const op = "storage.DeleteScreenshot"
	if _, err := s.db.Exec(
		`DELETE FROM screenshots_fts_content WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if _, err := s.db.Exec(`DELETE FROM screenshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// HasSteamScreenshot reports whether the game already holds a screenshot with
// this Steam id.
func (s *Storage) HasSteamScreenshot(gameID int64, steamID string) (bool, error) {
	const op = "storage.HasSteamScreenshot"
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM screenshots WHERE game_id = ? AND steam_screenshot_id = ?`,
		gameID, steamID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return n > 0, nil
}

// HasFileHash reports whether the game already holds a screenshot with this
// content hash, regardless of source.
func (s *Storage) HasFileHash(gameID int64, hash string) (bool, error) {
	const op = "storage.HasFileHash"
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM screenshots WHERE game_id = ? AND sha256_hash = ?`,
		gameID, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return n > 0, nil
}

func (s *Storage) syncFTS(screenshotID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO screenshots_fts_content (rowid, game_name, filename, steam_description)
		SELECT s.id, g.name, s.filename, COALESCE(s.steam_description, '')
		FROM screenshots s JOIN games g ON g.id = s.game_id
		WHERE s.id = ?
		ON CONFLICT(rowid) DO UPDATE SET
			game_name = excluded.game_name,
			filename = excluded.filename,
			steam_description = excluded.steam_description`,
		screenshotID)
	return err
}
