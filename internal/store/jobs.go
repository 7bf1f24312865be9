package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Job statuses (spec.md §3 Job invariants).
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is a unit of work dispatched to exactly one machine at a time.
type Job struct {
	ID              string
	Type            string
	Status          string
	Priority        int
	AssignedMachine *string
	Data            map[string]any
	SourceJobID     *string
	CreatedAt       string
	UpdatedAt       string
}

// CreateJob inserts a new pending job. If id is empty, one is generated.
func (s *Store) CreateJob(id, jobType string, data map[string]any, priority int, assignedMachine, sourceJobID *string) (string, error) {
	if id == "" {
		id = NewID()
	}
	if priority == 0 {
		priority = 100
	}

	dataJSON, err := marshalJSON(data)
	if err != nil {
		return "", err
	}

	now := nowRFC3339()
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, type, status, priority, assigned_machine, data, source_job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, jobType, JobPending, priority, assignedMachine, dataJSON, sourceJobID, now, now)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	s.emitRealtimeBestEffort("job_created", "", map[string]any{"job_id": id, "type": jobType})
	return id, nil
}

// GetNextJob atomically claims the lowest-priority (then oldest)
// pending job matching jobType and, when machineType is non-empty,
// assigned_machine == machineType. An empty machineType matches any
// assignment (controller semantics, spec.md §4.1). Returns ErrNoJob
// when nothing matches.
func (s *Store) GetNextJob(jobType, machineType string) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id, type, status, priority, assigned_machine, data, source_job_id, created_at, updated_at
		FROM jobs WHERE status = ? AND type = ?`
	args := []any{JobPending, jobType}
	if machineType != "" {
		query += ` AND assigned_machine = ?`
		args = append(args, machineType)
	}
	query += ` ORDER BY priority ASC, created_at ASC LIMIT 1`

	row := tx.QueryRow(query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("get next job: %w", err)
	}

	now := nowRFC3339()
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, JobProcessing, now, job.ID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = JobProcessing
	job.UpdatedAt = now
	s.emitRealtimeBestEffort("job_claimed", "", map[string]any{"job_id": job.ID})
	return job, nil
}

// CompleteJob marks a job terminal (completed or failed) and merges
// resultData into its data payload.
func (s *Store) CompleteJob(id, status string, resultData map[string]any) error {
	if status != JobCompleted && status != JobFailed {
		return fmt.Errorf("complete job: invalid status %q", status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var dataJSON string
	if err := tx.QueryRow(`SELECT data FROM jobs WHERE id = ?`, id).Scan(&dataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("complete job: job %s not found", id)
		}
		return fmt.Errorf("complete job: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		data = map[string]any{}
	}
	for k, v := range resultData {
		data[k] = v
	}

	merged, err := marshalJSON(data)
	if err != nil {
		return err
	}

	now := nowRFC3339()
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, data = ?, updated_at = ? WHERE id = ?`, status, merged, now, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}

	s.emitRealtimeBestEffort("job_"+status, "", map[string]any{"job_id": id})
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, type, status, priority, assigned_machine, data, source_job_id, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, err
}

// ListJobs returns jobs optionally filtered by status, newest first.
func (s *Store) ListJobs(status string) ([]*Job, error) {
	query := `SELECT id, type, status, priority, assigned_machine, data, source_job_id, created_at, updated_at FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job by id. The core never calls this during
// normal operation (jobs are never deleted by the core, spec.md §3);
// it exists for CLI admin use only.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*Job, error) {
	var j Job
	var dataJSON string
	var assigned, source sql.NullString

	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Priority, &assigned, &dataJSON, &source, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if assigned.Valid {
		j.AssignedMachine = &assigned.String
	}
	if source.Valid {
		j.SourceJobID = &source.String
	}
	if err := json.Unmarshal([]byte(dataJSON), &j.Data); err != nil {
		return nil, fmt.Errorf("unmarshal job data: %w", err)
	}

	return &j, nil
}

func scanJobRows(rows *sql.Rows) (*Job, error) {
	return scanJob(rows)
}
