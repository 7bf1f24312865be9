// Package jobsadmin implements the job administration operations
// exposed by fsmctl: list, add, update status, delete (spec.md §6
// "Job admin"). It is a thin wrapper over internal/store, existing
// only so the CLI layer doesn't talk to *store.Store directly.
package jobsadmin

import (
	"fmt"

	"github.com/fsmhost/fsmhost/internal/store"
)

// Admin exposes job CRUD backed by a Store.
type Admin struct {
	store *store.Store
}

// New wraps st for administrative use.
func New(st *store.Store) *Admin {
	return &Admin{store: st}
}

// List returns jobs, optionally filtered by status.
func (a *Admin) List(status string) ([]*store.Job, error) {
	return a.store.ListJobs(status)
}

// Add creates a pending job of jobType with the given data and
// priority (spec.md §6: "add (--type, --data <json>, --priority)").
func (a *Admin) Add(jobType string, data map[string]any, priority int) (string, error) {
	return a.store.CreateJob("", jobType, data, priority, nil, nil)
}

// UpdateStatus forces a job directly to a terminal status (completed
// or failed), bypassing the normal claim/complete flow — an
// administrative override for stuck or misreported jobs.
func (a *Admin) UpdateStatus(id, status string) error {
	switch status {
	case store.JobCompleted, store.JobFailed:
	default:
		return fmt.Errorf("jobsadmin: status must be %q or %q, got %q", store.JobCompleted, store.JobFailed, status)
	}
	return a.store.CompleteJob(id, status, nil)
}

// Delete removes a job permanently.
func (a *Admin) Delete(id string) error {
	return a.store.DeleteJob(id)
}

// Get fetches a single job by id.
func (a *Admin) Get(id string) (*store.Job, error) {
	return a.store.GetJob(id)
}
