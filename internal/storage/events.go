package storage

import (
	"fmt"

	"gamevault/internal/models"
)

// AppendImportEvent persists one progress event. Events are append-only;
// (session_id, seq) is the primary key.
func (s *Storage) AppendImportEvent(sessionID, seq int64, kind, payloadJSON string) error {
	const op = "storage.AppendImportEvent"
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO import_events (session_id, seq, kind, payload_json) VALUES (?, ?, ?, ?)`,
		sessionID, seq, kind, payloadJSON)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

// ListImportEvents returns events with seq >= fromSeq in seq order.
func (s *Storage) ListImportEvents(sessionID, fromSeq int64) ([]*models.ImportEvent, error) {
	const op = "storage.ListImportEvents"
	rows, err := s.db.Query(
		`SELECT session_id, seq, kind, payload_json, created_at
		 FROM import_events WHERE session_id = ? AND seq >= ? ORDER BY seq ASC`,
		sessionID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	var out []*models.ImportEvent
	for rows.Next() {
		var ev models.ImportEvent
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
