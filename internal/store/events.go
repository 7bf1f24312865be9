package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// MachineEvent is a one-shot message queued for a named target machine.
type MachineEvent struct {
	ID         string
	Target     string
	Source     string
	EventType  string
	JobID      *string
	Payload    map[string]any
	CreatedAt  string
	ConsumedAt *string
}

// SendEvent queues an event for target, addressed from source. jobID
// and payload are optional (nil payload becomes {}).
func (s *Store) SendEvent(target, source, eventType string, jobID *string, payload map[string]any) (string, error) {
	id := NewID()
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return "", err
	}

	now := nowRFC3339()
	_, err = s.db.Exec(`
		INSERT INTO machine_events (id, target, source, event_type, job_id, payload, created_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`, id, target, source, eventType, jobID, payloadJSON, now)
	if err != nil {
		return "", fmt.Errorf("send event: %w", err)
	}

	s.emitRealtimeBestEffort("machine_event", target, map[string]any{
		"event_type": eventType, "source": source,
	})
	return id, nil
}

// GetPendingEvents returns unconsumed events for target, oldest first
// (created_at order, spec.md §8.2), optionally filtered to eventTypes.
func (s *Store) GetPendingEvents(target string, eventTypes []string) ([]*MachineEvent, error) {
	query := `SELECT id, target, source, event_type, job_id, payload, created_at, consumed_at
		FROM machine_events WHERE target = ? AND consumed_at IS NULL`
	args := []any{target}

	if len(eventTypes) > 0 {
		placeholders := ""
		for i, t := range eventTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND event_type IN (%s)", placeholders)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get pending events: %w", err)
	}
	defer rows.Close()

	var events []*MachineEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkConsumed sets consumed_at on an event. Calling it twice on the
// same id is harmless (idempotent consumption, spec.md §9).
func (s *Store) MarkConsumed(eventID string) error {
	_, err := s.db.Exec(`UPDATE machine_events SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, nowRFC3339(), eventID)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// ClearEvents marks all unconsumed events of the given types, for
// target, consumed without inspecting their payloads.
func (s *Store) ClearEvents(target string, eventTypes []string) error {
	if len(eventTypes) == 0 {
		return nil
	}

	args := []any{nowRFC3339(), target}
	placeholders := ""
	for i, t := range eventTypes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}

	query := fmt.Sprintf(`UPDATE machine_events SET consumed_at = ?
		WHERE target = ? AND consumed_at IS NULL AND event_type IN (%s)`, placeholders)

	_, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*MachineEvent, error) {
	var e MachineEvent
	var payloadJSON string
	var jobID, consumedAt sql.NullString

	err := rows.Scan(&e.ID, &e.Target, &e.Source, &e.EventType, &jobID, &payloadJSON, &e.CreatedAt, &consumedAt)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		e.JobID = &jobID.String
	}
	if consumedAt.Valid {
		e.ConsumedAt = &consumedAt.String
	}
	if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal event payload: %w", err)
	}

	return &e, nil
}
