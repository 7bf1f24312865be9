// Package engine implements the per-machine tick loop (C6): the
// cooperative state-advance cycle that evaluates transitions, runs
// their actions, and fires the first matching one (spec.md §4.4).
package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsmhost/fsmhost/internal/actions"
	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/ectx"
	"github.com/fsmhost/fsmhost/internal/eventbus"
	"github.com/fsmhost/fsmhost/internal/interpolate"
	"github.com/fsmhost/fsmhost/internal/machinedef"
	"github.com/fsmhost/fsmhost/internal/store"
)

// tickBackoff is how long the loop sleeps after a tick in which no
// candidate transition fired (spec.md §4.4 step 3).
const tickBackoff = 100 * time.Millisecond

// Machine runs one machine definition as a single cooperative loop in
// the current goroutine. One process hosts exactly one Machine
// (spec.md §2: "one OS process per running machine").
type Machine struct {
	Store    *store.Store
	Config   *config.Config
	Inbound  *eventbus.Endpoint
	Registry *actions.Registry
	Def      *machinedef.Definition
	Name     string
	PID      int

	ctx            ectx.Context
	current        string
	stateEnteredAt time.Time
	log            *slog.Logger
}

// New constructs a Machine ready to Run. initialContext seeds the
// ExecutionContext (e.g. from --initial-context on the CLI, or from a
// parent's start_fsm context_vars, spec.md §8 E5).
func New(st *store.Store, cfg *config.Config, inbound *eventbus.Endpoint, registry *actions.Registry, def *machinedef.Definition, machineName string, initialContext map[string]any) *Machine {
	return &Machine{
		Store:          st,
		Config:         cfg,
		Inbound:        inbound,
		Registry:       registry,
		Def:            def,
		Name:           machineName,
		PID:            os.Getpid(),
		ctx:            ectx.New(machineName, initialContext),
		current:        def.InitialState,
		stateEnteredAt: time.Now(),
		log:            slog.Default().With("machine_name", machineName, "config_type", def.Name),
	}
}

// Run executes the tick loop until ctx is cancelled or a fatal engine
// error occurs (spec.md §4.4, §7 FatalEngineError). Inbound datagrams
// are relayed to the mailbox concurrently by a background goroutine
// owned by this call.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.Store.UpsertMachineState(m.Name, m.Def.Name, m.current, m.PID, nil); err != nil {
		m.log.Error("initial machine state upsert failed", "error", err)
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		m.Inbound.Loop(ctx.Done(), m.relayInboundFrame)
	}()

	defer func() {
		<-relayDone
		if err := m.Store.DeleteMachineState(m.Name); err != nil {
			m.log.Error("machine state delete on shutdown failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("engine loop cancelled, shutting down")
			return nil
		default:
		}

		fired, err := m.tick(ctx)
		if err != nil {
			m.log.Error("fatal engine error", "error", err)
			return err
		}
		if !fired {
			time.Sleep(tickBackoff)
		}
	}
}

// tick runs spec.md §4.4's "one tick in state S": timeout(N) candidates
// are checked first, in declaration order (direct sources before
// wildcard), against elapsed residency time. If none fire, the
// state's action list runs exactly once, in order; after each action,
// its returned event is matched against every non-timeout candidate
// (again in declaration order), firing the first match. Actions never
// re-run within a tick, so a state with several outgoing transitions
// cannot claim a job (or otherwise side-effect) more than once per
// tick (spec.md §3, §8.1).
func (m *Machine) tick(ctx context.Context) (fired bool, err error) {
	candidates := m.Def.TransitionsFrom(m.current)

	for _, candidate := range candidates {
		if n, isTimeout := machinedef.IsTimeoutEvent(candidate.Event); isTimeout {
			if time.Since(m.stateEnteredAt) >= time.Duration(n)*time.Second {
				m.fire(candidate)
				return true, nil
			}
		}
	}

	actionList := m.Def.ActionsFor(m.current)
	for _, cfg := range actionList {
		result, actErr := m.runAction(ctx, cfg)
		if actErr != nil {
			m.log.Warn("action returned infrastructure error", "type", cfg.Type, "error", actErr)
		}
		for _, candidate := range candidates {
			if _, isTimeout := machinedef.IsTimeoutEvent(candidate.Event); isTimeout {
				continue
			}
			if result == candidate.Event {
				m.fire(candidate)
				return true, nil
			}
		}
	}

	return false, nil
}

// runAction interpolates cfg.Raw against the current ExecutionContext
// and dispatches to the registered action (spec.md §4.2, §4.3).
func (m *Machine) runAction(ctx context.Context, cfg machinedef.ActionConfig) (string, error) {
	action, ok := m.Registry.Build(cfg.Type, &actions.Deps{
		Store:          m.Store,
		Config:         m.Config,
		MachineName:    m.Name,
		SelfBinaryPath: os.Args[0],
	})
	if !ok {
		m.log.Error("unknown action type, skipping", "type", cfg.Type)
		return "", nil
	}

	interpolated, ok := interpolate.Dict(cfg.Raw, m.ctx.Map()).(map[string]any)
	if !ok {
		interpolated = map[string]any{}
	}

	result, err := action.Execute(ctx, interpolated, m.ctx)
	if err != nil {
		return result, err
	}
	return result, nil
}

// fire advances current_state, resets the entry timestamp, upserts the
// machine_state row, and fans the change out to the broadcaster's
// shared socket — together, spec.md §4.4 step 2's "Store upsert +
// RealtimeFrame + datagram to UI" (UpsertMachineState persists the
// realtime frame; the datagram send below reaches live UI clients).
func (m *Machine) fire(tr machinedef.Transition) {
	m.log.Debug("transition fired", "from", m.current, "to", tr.To, "event", tr.Event)
	m.current = tr.To
	m.stateEnteredAt = time.Now()
	if err := m.Store.UpsertMachineState(m.Name, m.Def.Name, m.current, m.PID, m.ctx.Map()); err != nil {
		m.log.Error("machine state upsert failed", "error", err)
	}

	eventbus.SendBestEffort(m.Config.EventsSocketPath(), outboundFrame{
		Type:        "state_change",
		MachineName: m.Name,
		Payload:     map[string]any{"config_type": m.Def.Name, "current_state": m.current},
		Timestamp:   float64(time.Now().UnixNano()) / 1e9,
	})
}

// relayInboundFrame parses one inbound datagram and appends it to the
// persistent mailbox so a later check_events action observes it
// (spec.md §4.4 "Inbound event delivery"). Malformed frames are
// logged and dropped; the datagram path is best-effort, the mailbox
// remains authoritative on restart.
func (m *Machine) relayInboundFrame(raw []byte) {
	frame, err := decodeInboundFrame(raw)
	if err != nil {
		m.log.Warn("inbound frame failed to parse, dropping", "error", err)
		return
	}
	if _, err := m.Store.SendEvent(m.Name, frame.Source, frame.Type, frame.JobID, frame.Payload); err != nil {
		m.log.Warn("inbound frame relay to mailbox failed", "error", err)
	}
}
