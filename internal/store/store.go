// Package store provides the embedded SQLite backing for jobs, the
// inter-machine mailbox, live machine state, and the realtime frame
// ring. One *Store handle is safe for concurrent use by multiple
// goroutines within a process; multiple processes may open the same
// database file concurrently (WAL mode + a busy timeout absorb the
// resulting write contention).
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoJob is returned by GetNextJob when no matching pending job exists.
var ErrNoJob = errors.New("store: no matching pending job")

// Store handles job, mailbox, machine-state, and realtime persistence.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 100,
	assigned_machine TEXT,
	data TEXT NOT NULL DEFAULT '{}',
	source_job_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_assigned ON jobs(assigned_machine);

CREATE TABLE IF NOT EXISTS machine_events (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	job_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	consumed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_pending ON machine_events(target, consumed_at, created_at);

CREATE TABLE IF NOT EXISTS machine_state (
	machine_name TEXT PRIMARY KEY,
	config_type TEXT NOT NULL,
	current_state TEXT NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	last_activity TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS realtime_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	machine_name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_realtime_created ON realtime_events(created_at);
`

// realtimeRingSize bounds the realtime_events table; PutRealtimeFrame
// trims older rows once this is exceeded.
const realtimeRingSize = 2000

// NewID generates a new UUIDv7, falling back to v4 if the time-based
// generator fails (e.g. on a clock without monotonic support).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func nowRFC3339() string {
	// Fixed-width fraction so string order in ORDER BY created_at is
	// time order (RFC3339Nano trims trailing zeros).
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}
