package machinedef

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
name: worker
initial_state: waiting
states: [waiting, processing, completed, idle, working]
events: [new_job, job_done, continue]
transitions:
  - from: "*"
    to: waiting
    event: continue
  - from: waiting
    to: processing
    event: new_job
  - from: processing
    to: completed
    event: job_done
  - from: completed
    to: waiting
    event: continue
  - from: idle
    to: working
    event: timeout(10)
actions:
  waiting:
    - type: check_database_queue
      job_type: t
      success: new_job
  processing:
    - type: bash
      command: "echo {job_id}"
      success: job_done
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRejectsUnknownState(t *testing.T) {
	path := writeFile(t, `
name: bad
initial_state: waiting
states: [waiting]
events: [go]
transitions:
  - from: waiting
    to: nonexistent
    event: go
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error for unknown to-state")
	}
}

func TestLoadRejectsUnknownEvent(t *testing.T) {
	path := writeFile(t, `
name: bad
initial_state: waiting
states: [waiting, done]
events: [go]
transitions:
  - from: waiting
    to: done
    event: nope
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error for unknown event")
	}
}

func TestLoadAcceptsTimeoutAndWildcard(t *testing.T) {
	path := writeFile(t, `
name: ok
initial_state: idle
states: [idle, working]
events: []
transitions:
  - from: idle
    to: working
    event: timeout(10)
  - from: "*"
    to: idle
    event: reset
`)
	// "*" as from is valid, but its event must still be declared: the
	// first file leaves "reset" out and must be rejected; the second
	// declares it and must load.
	path2 := writeFile(t, `
name: ok
initial_state: idle
states: [idle, working]
events: [reset]
transitions:
  - from: idle
    to: working
    event: timeout(10)
  - from: "*"
    to: idle
    event: reset
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error because reset is undeclared")
	}
	def, err := Load(path2)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(def.Transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(def.Transitions))
	}
}

func TestLoadValid(t *testing.T) {
	path := writeFile(t, validYAML)
	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if def.MachineName() != "worker" {
		t.Errorf("MachineName() = %q, want worker", def.MachineName())
	}
	actions := def.ActionsFor("waiting")
	if len(actions) != 1 || actions[0].Type != "check_database_queue" {
		t.Fatalf("ActionsFor(waiting) = %+v", actions)
	}
}

func TestIsTimeoutEvent(t *testing.T) {
	n, ok := IsTimeoutEvent("timeout(10)")
	if !ok || n != 10 {
		t.Errorf("IsTimeoutEvent(timeout(10)) = %d, %v", n, ok)
	}
	if _, ok := IsTimeoutEvent("new_job"); ok {
		t.Error("IsTimeoutEvent(new_job) = true, want false")
	}
}

func TestTransitionsFromOrdersDirectBeforeWildcard(t *testing.T) {
	path := writeFile(t, validYAML)
	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	trs := def.TransitionsFrom("waiting")
	if len(trs) != 2 || trs[0].Event != "new_job" || trs[1].From != WildcardSource {
		t.Fatalf("TransitionsFrom(waiting) = %+v, want the direct new_job transition before the wildcard one", trs)
	}
}

func TestMachineNameOverride(t *testing.T) {
	path := writeFile(t, `
name: worker_template
initial_state: waiting
metadata:
  machine_name: worker_7
states: [waiting]
events: []
`)
	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if def.MachineName() != "worker_7" {
		t.Errorf("MachineName() = %q, want worker_7", def.MachineName())
	}
}
