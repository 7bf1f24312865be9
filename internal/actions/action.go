// Package actions implements the ActionRegistry (C4) and the
// built-in action contracts (C5) from spec.md §4.3.
package actions

import (
	"context"

	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/ectx"
	"github.com/fsmhost/fsmhost/internal/store"
)

// Action is the one-method contract every built-in and user action
// implements (spec.md §9 design note: "a discriminated-union or
// interface with one method is sufficient"). cfg has already been
// interpolated against ec for this invocation (spec.md §4.3).
type Action interface {
	Execute(ctx context.Context, cfg map[string]any, ec ectx.Context) (string, error)
}

// Deps are the per-machine collaborators every built-in action needs.
// Only the built-in actions are registered; the registry has no loader
// for user-supplied actions.
type Deps struct {
	Store          *store.Store
	Config         *config.Config
	MachineName    string
	SelfBinaryPath string // argv[0] of the running engine, used by start_fsm
}

// Factory constructs an Action bound to deps. Built-ins are registered
// once per process; Deps vary per machine.
type Factory func(deps *Deps) Action

// Registry maps a YAML "type" string to a Factory (C4).
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-loaded with the nine built-in
// actions.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("check_database_queue", func(d *Deps) Action { return &checkDatabaseQueue{d} })
	r.Register("check_events", func(d *Deps) Action { return &checkEvents{d} })
	r.Register("send_event", func(d *Deps) Action { return &sendEvent{d} })
	r.Register("bash", func(d *Deps) Action { return &bashAction{d} })
	r.Register("log", func(d *Deps) Action { return &logAction{d} })
	r.Register("start_fsm", func(d *Deps) Action { return &startFSM{d} })
	r.Register("complete_job", func(d *Deps) Action { return &completeJob{d} })
	r.Register("clear_events", func(d *Deps) Action { return &clearEvents{d} })
	r.Register("http_request", func(d *Deps) Action { return &httpRequest{d} })
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Build constructs the Action registered for typ, or reports ok=false
// if no factory is registered (a ConfigError at machine startup,
// spec.md §7).
func (r *Registry) Build(typ string, deps *Deps) (Action, bool) {
	f, ok := r.factories[typ]
	if !ok {
		return nil, false
	}
	return f(deps), true
}

// Types returns every registered action type name in no particular
// order; callers needing determinism should sort the result themselves.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}
