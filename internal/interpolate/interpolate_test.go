package interpolate

import "testing"

func TestStringSimple(t *testing.T) {
	ctx := map[string]any{"job_id": "j1"}
	got := String("job {job_id} started", ctx)
	if got != "job j1 started" {
		t.Errorf("String() = %q", got)
	}
}

func TestStringDotPath(t *testing.T) {
	ctx := map[string]any{"current_job": map[string]any{"id": "42"}}
	got := String("id={current_job.id}", ctx)
	if got != "id=42" {
		t.Errorf("String() = %q", got)
	}
}

func TestStringMissingKeyLiteral(t *testing.T) {
	ctx := map[string]any{}
	got := String("x={missing}", ctx)
	if got != "x={missing}" {
		t.Errorf("String() = %q, want placeholder preserved", got)
	}
}

func TestStringNonStringLeafStringified(t *testing.T) {
	ctx := map[string]any{"count": 3.0}
	got := String("n={count}", ctx)
	if got != "n=3" {
		t.Errorf("String() = %q", got)
	}
}

func TestValueWholePayloadForwarding(t *testing.T) {
	ctx := map[string]any{"event_data": map[string]any{"payload": map[string]any{"k": "v"}}}
	got := Value("{event_data.payload}", ctx)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Value() = %#v, want map[string]any", got)
	}
	if m["k"] != "v" {
		t.Errorf("Value()[k] = %v, want v", m["k"])
	}
}

func TestValueNonStringUnchanged(t *testing.T) {
	in := 42
	got := Value(in, map[string]any{})
	if got != 42 {
		t.Errorf("Value() = %v, want 42 unchanged", got)
	}
}

func TestDictRecursesMapsAndSlices(t *testing.T) {
	ctx := map[string]any{"name": "worker1"}
	config := map[string]any{
		"command": "echo {name}",
		"args":    []any{"{name}", 1, true},
		"nested":  map[string]any{"k": "{name}"},
	}

	out := Dict(config, ctx).(map[string]any)
	if out["command"] != "echo worker1" {
		t.Errorf("command = %v", out["command"])
	}
	args := out["args"].([]any)
	if args[0] != "worker1" || args[1] != 1 || args[2] != true {
		t.Errorf("args = %v", args)
	}
	nested := out["nested"].(map[string]any)
	if nested["k"] != "worker1" {
		t.Errorf("nested.k = %v", nested["k"])
	}
}

// TestDictIdempotent is the totality invariant from spec.md §8.4:
// applying Dict twice to a fully-resolved config equals applying it once.
func TestDictIdempotent(t *testing.T) {
	ctx := map[string]any{"name": "worker1"}
	config := map[string]any{"command": "echo {name}"}

	once := Dict(config, ctx)
	twice := Dict(once, ctx)

	onceMap := once.(map[string]any)
	twiceMap := twice.(map[string]any)
	if onceMap["command"] != twiceMap["command"] {
		t.Errorf("not idempotent: once=%v twice=%v", onceMap["command"], twiceMap["command"])
	}
}

func TestDictPreservesNonStringLeaves(t *testing.T) {
	config := map[string]any{"count": 5, "enabled": true, "ratio": 1.5}
	out := Dict(config, map[string]any{}).(map[string]any)
	if out["count"] != 5 || out["enabled"] != true || out["ratio"] != 1.5 {
		t.Errorf("Dict() mutated non-string leaves: %v", out)
	}
}
