package storage

import (
	"database/sql"
	"fmt"

	"gamevault/internal/models"
)

// CreateImportSession inserts a running session row and returns its id.
func (s *Storage) CreateImportSession(steamUserID string) (int64, error) {
	const op = "storage.CreateImportSession"
	res, err := s.db.Exec(
		`INSERT INTO import_sessions (steam_user_id, status, started_at)
		 VALUES (?, 'running', datetime('now'))`,
		steamUserID)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	return id, nil
}

func (s *Storage) GetImportSession(id int64) (*models.ImportSession, error) {
	const op = "storage.GetImportSession"

	var sess models.ImportSession
	var lastErr sql.NullString
	var started, finished sql.NullTime

	err := s.db.QueryRow(`
		SELECT id, steam_user_id, status, total_games, total_screenshots,
		       completed_screenshots, skipped_screenshots, failed_screenshots,
		       last_error, started_at, finished_at, created_at
		FROM import_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.SteamUserID, &sess.Status, &sess.TotalGames, &sess.TotalScreenshots,
			&sess.Completed, &sess.Skipped, &sess.Failed,
			&lastErr, &started, &finished, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if lastErr.Valid {
		sess.LastError = &lastErr.String
	}
	if started.Valid {
		sess.StartedAt = &started.Time
	}
	if finished.Valid {
		sess.FinishedAt = &finished.Time
	}
	return &sess, nil
}

func (s *Storage) SetSessionTotals(id int64, totalGames, totalScreenshots int) error {
	const op = "storage.SetSessionTotals"
	_, err := s.db.Exec(
		`UPDATE import_sessions SET total_games = ?, total_screenshots = ? WHERE id = ?`,
		totalGames, totalScreenshots, id)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) UpdateSessionCounters(id int64, completed, skipped, failed int) error {
	const op = "storage.UpdateSessionCounters"
	_, err := s.db.Exec(
		`UPDATE import_sessions
		 SET completed_screenshots = ?, skipped_screenshots = ?, failed_screenshots = ?
		 WHERE id = ?`,
		completed, skipped, failed, id)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// FinishImportSession writes the terminal status and final counters in one
// statement. The WHERE clause keeps terminal states write-once: a session that
// already left 'running' is never overwritten.
func (s *Storage) FinishImportSession(id int64, status string, completed, skipped, failed int, lastError string) error {
	const op = "storage.FinishImportSession"

	var errVal any
	if lastError != "" {
		errVal = lastError
	}
	_, err := s.db.Exec(
		`UPDATE import_sessions
		 SET status = ?, completed_screenshots = ?, skipped_screenshots = ?,
		     failed_screenshots = ?, last_error = ?, finished_at = datetime('now')
		 WHERE id = ? AND status = 'running'`,
		status, completed, skipped, failed, errVal, id)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// RunningSessionForUser returns the id of a running session for the given
// Steam user, or 0 if none.
func (s *Storage) RunningSessionForUser(steamUserID string) (int64, error) {
	const op = "storage.RunningSessionForUser"
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM import_sessions WHERE steam_user_id = ? AND status = 'running'
		 ORDER BY id DESC LIMIT 1`,
		steamUserID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	return id, nil
}
