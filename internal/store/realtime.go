package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// RealtimeFrame is an ephemeral broadcast record, optionally persisted
// for late-joining clients (spec.md §3).
type RealtimeFrame struct {
	ID          int64
	Type        string
	MachineName string
	Payload     map[string]any
	CreatedAt   string
}

// emitRealtimeBestEffort records a frame in the bounded ring. Failure
// here must never fail the calling mutation (spec.md §4.1), so errors
// are logged and swallowed. The datagram fan-out to live clients is a
// separate concern handled by the eventbus package, not the Store.
func (s *Store) emitRealtimeBestEffort(frameType, machineName string, payload map[string]any) {
	if err := s.PutRealtimeFrame(frameType, machineName, payload); err != nil {
		slog.Default().Warn("store: realtime frame persist failed", "type", frameType, "error", err)
	}
}

// PutRealtimeFrame appends a frame to the ring, trimming the oldest
// rows once realtimeRingSize is exceeded.
func (s *Store) PutRealtimeFrame(frameType, machineName string, payload map[string]any) error {
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO realtime_events (type, machine_name, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, frameType, machineName, payloadJSON, nowRFC3339())
	if err != nil {
		return fmt.Errorf("put realtime frame: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM realtime_events WHERE id NOT IN (
			SELECT id FROM realtime_events ORDER BY id DESC LIMIT ?
		)
	`, realtimeRingSize)
	if err != nil {
		return fmt.Errorf("trim realtime ring: %w", err)
	}
	return nil
}

// RecentRealtimeFrames returns up to limit of the newest persisted
// frames, oldest first, for late-joining clients.
func (s *Store) RecentRealtimeFrames(limit int) ([]*RealtimeFrame, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, type, machine_name, payload, created_at
		FROM realtime_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent realtime frames: %w", err)
	}
	defer rows.Close()

	var frames []*RealtimeFrame
	for rows.Next() {
		var f RealtimeFrame
		var payloadJSON string
		if err := rows.Scan(&f.ID, &f.Type, &f.MachineName, &payloadJSON, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &f.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal realtime payload: %w", err)
		}
		frames = append([]*RealtimeFrame{&f}, frames...) // reverse to oldest-first
	}
	return frames, rows.Err()
}
