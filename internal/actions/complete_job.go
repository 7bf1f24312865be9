package actions

import (
	"context"

	"github.com/fsmhost/fsmhost/internal/ectx"
	"github.com/fsmhost/fsmhost/internal/store"
)

// completeJob implements complete_job: mark a claimed job completed
// (or failed) and merge the interpolated result_data into its row
// (spec.md §4.3).
type completeJob struct{ deps *Deps }

func (a *completeJob) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	success := cfgString(cfg, "success", "job_completed")
	errEvent := cfgString(cfg, "error", "error")
	resultData := cfgMap(cfg, "result_data")
	status := cfgString(cfg, "status", store.JobCompleted)

	jobID := cfgString(cfg, "job_id", "")
	if jobID == "" {
		if v, ok := ec.Get("job_id"); ok {
			if s, ok := v.(string); ok {
				jobID = s
			}
		}
	}

	if jobID == "" {
		ec.Set("last_error", "complete_job: job_id is required")
		return errEvent, nil
	}

	if err := a.deps.Store.CompleteJob(jobID, status, resultData); err != nil {
		ec.Set("last_error", err.Error())
		return errEvent, err
	}

	return success, nil
}
