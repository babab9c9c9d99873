package storage

import (
	"database/sql"
	"fmt"

	"gamevault/internal/library"
	"gamevault/internal/models"
)

const gameColumns = `id, name, folder_name, steam_app_id, cover_path, is_public,
	screenshot_count, first_screenshot_date, last_screenshot_date, created_at, updated_at`

func scanGame(row interface{ Scan(...any) error }) (*models.Game, error) {
	var g models.Game
	var appID sql.NullInt64
	var cover sql.NullString
	var first, last sql.NullTime

	err := row.Scan(&g.ID, &g.Name, &g.FolderName, &appID, &cover, &g.IsPublic,
		&g.ScreenshotCount, &first, &last, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if appID.Valid {
		g.SteamAppID = &appID.Int64
	}
	if cover.Valid {
		g.CoverPath = &cover.String
	}
	if first.Valid {
		g.FirstScreenshotDate = &first.Time
	}
	if last.Valid {
		g.LastScreenshotDate = &last.Time
	}
	return &g, nil
}

func (s *Storage) GetGame(id int64) (*models.Game, error) {
	const op = "storage.GetGame"
	g, err := scanGame(s.db.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return g, nil
}

func (s *Storage) GetGameBySteamAppID(appID int64) (*models.Game, error) {
	const op = "storage.GetGameBySteamAppID"
	g, err := scanGame(s.db.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE steam_app_id = ?`, appID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return g, nil
}

func (s *Storage) GetGameByName(name string) (*models.Game, error) {
	const op = "storage.GetGameByName"
	g, err := scanGame(s.db.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return g, nil
}

func (s *Storage) ListGames() ([]*models.Game, error) {
	const op = "storage.ListGames"
	rows, err := s.db.Query(`SELECT ` + gameColumns + ` FROM games ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// CreateGame inserts a game, deriving its folder name from the display name.
// Folder collisions are resolved with a numeric suffix.
func (s *Storage) CreateGame(name string, steamAppID *int64) (*models.Game, error) {
	const op = "storage.CreateGame"

	folder := library.FolderName(name)
	candidate := folder
	for n := 2; ; n++ {
		var exists int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM games WHERE folder_name = ?`, candidate).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		if exists == 0 {
			break
		}
		candidate = fmt.Sprintf("%s-%d", folder, n)
	}

	res, err := s.db.Exec(
		`INSERT INTO games (name, folder_name, steam_app_id) VALUES (?, ?, ?)`,
		name, candidate, steamAppID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return s.GetGame(id)
}

// GetOrCreateGame matches on steam_app_id first (if provided), then name.
func (s *Storage) GetOrCreateGame(name string, steamAppID *int64) (*models.Game, error) {
	if steamAppID != nil {
		g, err := s.GetGameBySteamAppID(*steamAppID)
		if err != nil || g != nil {
			return g, err
		}
	}
	g, err := s.GetGameByName(name)
	if err != nil || g != nil {
		return g, err
	}
	return s.CreateGame(name, steamAppID)
}

// DeleteGame removes the game row; screenshots cascade.
func (s *Storage) DeleteGame(id int64) error {
	const op = "storage.DeleteGame"
	_, err := s.db.Exec(`DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// RefreshGameStats recalculates the denormalized per-game screenshot stats.
func (s *Storage) RefreshGameStats(gameID int64) error {
	const op = "storage.RefreshGameStats"
	_, err := s.db.Exec(`
		UPDATE games SET
			screenshot_count = (SELECT COUNT(*) FROM screenshots WHERE game_id = ?),
			first_screenshot_date = (SELECT MIN(taken_at) FROM screenshots WHERE game_id = ?),
			last_screenshot_date = (SELECT MAX(taken_at) FROM screenshots WHERE game_id = ?),
			updated_at = datetime('now')
		WHERE id = ?`,
		gameID, gameID, gameID, gameID)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}
