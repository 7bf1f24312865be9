package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsmhost/fsmhost/internal/actions"
	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/eventbus"
	"github.com/fsmhost/fsmhost/internal/machinedef"
	"github.com/fsmhost/fsmhost/internal/store"
)

func newTestMachine(t *testing.T, yamlSource, machineName string) (*Machine, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	defPath := filepath.Join(dir, "machine.yaml")
	writeFile(t, defPath, yamlSource)

	def, err := machinedef.Load(defPath)
	if err != nil {
		t.Fatalf("machinedef.Load: %v", err)
	}

	cfg := config.Default()
	cfg.SocketDir = dir

	inbound, err := eventbus.Listen(cfg.MachineSocketPath(machineName))
	if err != nil {
		t.Fatalf("eventbus.Listen: %v", err)
	}
	t.Cleanup(func() { inbound.Close() })

	m := New(st, cfg, inbound, actions.NewRegistry(), def, machineName, nil)
	return m, st
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// E1 — simple worker: waiting -> processing -> completed -> waiting,
// driven by one pending job (spec.md §8 E1).
func TestSimpleWorkerEndToEnd(t *testing.T) {
	const yamlSource = `
name: worker
initial_state: waiting
states: [waiting, processing, completed]
events: [new_job, job_done, continue, no_jobs]
transitions:
  - from: waiting
    to: processing
    event: new_job
  - from: processing
    to: completed
    event: job_done
  - from: completed
    to: waiting
    event: continue
actions:
  waiting:
    - type: check_database_queue
      job_type: t
      success: new_job
      no_jobs: no_jobs
  processing:
    - type: bash
      command: "echo {job_id}"
      success: job_done
  completed:
    - type: complete_job
      success: continue
`
	m, st := newTestMachine(t, yamlSource, "worker1")

	jobID, err := st.CreateJob("", "t", map[string]any{"id": "j1"}, 0, nil, nil)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("worker did not return to waiting in time; last state %q", m.current)
		default:
		}
		// The machine starts in waiting, so only a waiting state seen
		// after the job has been completed counts as a return.
		if m.current == "waiting" {
			if job, err := st.GetJob(jobID); err == nil && job.Status == store.JobCompleted {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	jobs, err := st.ListJobs("")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != store.JobCompleted {
		t.Fatalf("job status = %+v, want completed", jobs)
	}

	cancel()
	<-runDone
}

// spec.md §8 testable property 3: after each transition, the Store
// row's current_state matches the in-memory state.
func TestStateRowMatchesInMemoryState(t *testing.T) {
	const yamlSource = `
name: ticker
initial_state: idle
states: [idle, done]
events: [go]
transitions:
  - from: idle
    to: done
    event: go
actions:
  idle:
    - type: log
      message: hello
      success: go
`
	m, st := newTestMachine(t, yamlSource, "ticker1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	deadline := time.After(1 * time.Second)
	for m.current != "done" {
		select {
		case <-deadline:
			t.Fatal("transition to done never fired")
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}

	row, err := st.GetMachineState("ticker1")
	if err != nil {
		t.Fatalf("GetMachineState: %v", err)
	}
	if row == nil || row.CurrentState != m.current {
		t.Fatalf("store state = %+v, in-memory state = %q", row, m.current)
	}

	cancel()
	<-runDone
}

// E4 — timeout transition fires no earlier than N and within 0.3s
// after it (the 0.2s window plus slack for the tick backoff).
func TestTimeoutTransitionFiresOnSchedule(t *testing.T) {
	const yamlSource = `
name: waiter
initial_state: idle
states: [idle, working]
events: []
transitions:
  - from: idle
    to: working
    event: timeout(1)
`
	m, _ := newTestMachine(t, yamlSource, "waiter1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	for m.current != "working" {
		if time.Since(start) > 2*time.Second {
			t.Fatal("timeout transition never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	elapsed := time.Since(start)

	if elapsed < 1*time.Second || elapsed > 1300*time.Millisecond {
		t.Errorf("timeout fired after %v, want ~[1.0s, 1.2s] (allowing tick backoff slack)", elapsed)
	}

	cancel()
	<-runDone
}

// E3 — event relay with whole-payload forwarding: a relayed
// inter-machine frame lands in the mailbox with its payload intact as
// an object, not a JSON string.
func TestInboundFrameRelayPreservesPayloadShape(t *testing.T) {
	const yamlSource = `
name: controller
initial_state: idle
states: [idle]
events: []
transitions: []
`
	m, st := newTestMachine(t, yamlSource, "controller1")

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		m.Inbound.Loop(ctx.Done(), m.relayInboundFrame)
	}()

	jobID := "j9"
	if err := eventbus.Send(m.Config.MachineSocketPath("controller1"), inboundFrame{
		Type:    "done",
		Source:  "worker_a",
		JobID:   &jobID,
		Payload: map[string]any{"k": "v"},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var events []*store.MachineEvent
	deadline := time.After(2 * time.Second)
	for len(events) == 0 {
		var err error
		events, err = st.GetPendingEvents("controller1", nil)
		if err != nil {
			t.Fatalf("GetPendingEvents: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("relayed event never appeared in mailbox")
		default:
		}
		if len(events) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	if events[0].Payload["k"] != "v" {
		t.Errorf("payload = %+v, want {k: v}", events[0].Payload)
	}

	cancel()
	<-relayDone
}
