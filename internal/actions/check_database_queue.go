package actions

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fsmhost/fsmhost/internal/ectx"
	"github.com/fsmhost/fsmhost/internal/store"
)

// checkDatabaseQueue implements the check_database_queue action:
// atomically claim the next matching pending job and flatten its data
// into the execution context (spec.md §4.3).
type checkDatabaseQueue struct{ deps *Deps }

func (a *checkDatabaseQueue) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	jobType := cfgString(cfg, "job_type", "")
	machineType := cfgString(cfg, "machine_type", "")
	success := cfgString(cfg, "success", "new_job")
	noJobs := cfgString(cfg, "no_jobs", "no_jobs")

	job, err := a.deps.Store.GetNextJob(jobType, machineType)
	if errors.Is(err, store.ErrNoJob) {
		return noJobs, nil
	}
	if err != nil {
		slog.Default().Error("check_database_queue: store error", "error", err)
		return noJobs, err
	}

	ec.Set("job_id", job.ID)
	ec.Set("current_job", map[string]any{
		"id":   job.ID,
		"type": job.Type,
		"data": job.Data,
	})
	ec.Flatten(job.Data)

	return success, nil
}
