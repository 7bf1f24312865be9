package actions

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/fsmhost/fsmhost/internal/ectx"
)

// startFSM implements start_fsm: spawn an independent child machine
// process with an interpolated initial-context JSON argument
// (spec.md §4.3, §4.4 "Child machines"). The parent does not
// supervise the child; they communicate only via events and the
// shared store.
type startFSM struct{ deps *Deps }

func (a *startFSM) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	yamlPath := cfgString(cfg, "yaml_path", "")
	machineName := cfgString(cfg, "machine_name", "")
	contextVars := cfgStringList(cfg, "context_vars")
	storePidKey := cfgString(cfg, "store_pid", "")
	additionalArgs := cfgStringList(cfg, "additional_args")
	success := cfgString(cfg, "success", "started")
	errEvent := cfgString(cfg, "error", "error")

	if yamlPath == "" || machineName == "" {
		ec.Set("last_error", "start_fsm: yaml_path and machine_name are required")
		return errEvent, nil
	}

	initialContext := buildChildContext(contextVars, ec)
	contextJSON, err := json.Marshal(initialContext)
	if err != nil {
		ec.Set("last_error", err.Error())
		return errEvent, nil
	}

	args := append([]string{yamlPath, "--machine-name", machineName, "--initial-context", string(contextJSON)}, additionalArgs...)
	cmd := exec.Command(a.deps.SelfBinaryPath, args...)

	if err := cmd.Start(); err != nil {
		ec.Set("last_error", err.Error())
		return errEvent, nil
	}

	// The child is autonomous: we don't Wait for it, only record that
	// it was launched. Reap it in the background so it never zombies.
	go func() { _ = cmd.Wait() }()

	if storePidKey != "" {
		ec.Set(storePidKey, cmd.Process.Pid)
	}

	return success, nil
}

// buildChildContext resolves each context_vars entry ("source" or
// "source as target") against the parent's ExecutionContext, building
// the flat map passed to the child as its initial context
// (spec.md §8 E5).
func buildChildContext(contextVars []string, ec ectx.Context) map[string]any {
	out := make(map[string]any, len(contextVars))
	for _, spec := range contextVars {
		source, target := spec, spec
		if idx := strings.Index(spec, " as "); idx >= 0 {
			source = strings.TrimSpace(spec[:idx])
			target = strings.TrimSpace(spec[idx+len(" as "):])
		} else {
			// Bare dotted source: the target key is its final segment
			// (e.g. "current_job.id" -> "id") unless it's already a
			// bare top-level key.
			if idx := strings.LastIndex(source, "."); idx >= 0 {
				target = source[idx+1:]
			}
		}
		if v, ok := ec.Get(source); ok {
			out[target] = v
		}
	}
	return out
}
