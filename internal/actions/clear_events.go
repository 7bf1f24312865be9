package actions

import (
	"context"

	"github.com/fsmhost/fsmhost/internal/ectx"
)

// clearEvents implements clear_events: discard queued events of the
// given types without inspecting them, used to drain stale mailbox
// entries on state entry (spec.md §4.3).
type clearEvents struct{ deps *Deps }

func (a *clearEvents) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	types := cfgStringList(cfg, "event_types")
	success := cfgString(cfg, "success", "cleared")
	errEvent := cfgString(cfg, "error", "error")

	if err := a.deps.Store.ClearEvents(a.deps.MachineName, types); err != nil {
		ec.Set("last_error", err.Error())
		return errEvent, err
	}

	return success, nil
}
