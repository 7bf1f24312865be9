// Package machinedef loads and validates the YAML machine definition
// format described in spec.md §3 and §6.
package machinedef

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WildcardSource is the special transition source that matches any
// current state, evaluated last in declaration order (spec.md §4.4).
const WildcardSource = "*"

// Definition is the immutable, validated in-memory form of a YAML
// machine definition.
type Definition struct {
	Name         string                `yaml:"name"`
	InitialState string                `yaml:"initial_state"`
	Metadata     Metadata              `yaml:"metadata"`
	States       []string              `yaml:"states"`
	Events       []string              `yaml:"events"`
	Transitions  []Transition          `yaml:"transitions"`
	Actions      map[string][]ActionConfig `yaml:"actions"`
}

// Metadata carries the optional machine-name override.
type Metadata struct {
	MachineName string `yaml:"machine_name"`
}

// Transition is a single (from, to, event) edge. Actions attached to a
// transition's source state (Definition.Actions[From]) run in
// declared order when that state is evaluated (spec.md §4.4).
type Transition struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Event string `yaml:"event"`
}

// ActionConfig is one step of a state's action list: a discriminated
// "type" field plus arbitrary config keys, decoded lazily so each
// action factory can interpret its own keys (spec.md §4.3).
type ActionConfig struct {
	Type    string
	Success string
	Error   string
	Raw     map[string]any
}

func (a *ActionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	a.Raw = raw
	if t, ok := raw["type"].(string); ok {
		a.Type = t
	}
	if s, ok := raw["success"].(string); ok {
		a.Success = s
	}
	if e, ok := raw["error"].(string); ok {
		a.Error = e
	}
	return nil
}

// MachineName returns the effective process machine name: the
// metadata override if set, otherwise the config type name.
func (d *Definition) MachineName() string {
	if d.Metadata.MachineName != "" {
		return d.Metadata.MachineName
	}
	return d.Name
}

var timeoutForm = regexp.MustCompile(`^timeout\((\d+)\)$`)

// IsTimeoutEvent reports whether event is the special timeout(N) form
// and returns N in seconds when it is.
func IsTimeoutEvent(event string) (seconds int, ok bool) {
	m := timeoutForm.FindStringSubmatch(event)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Load reads, parses, and validates a machine definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machinedef: read %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("machinedef: parse %s: %w", path, err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("machinedef: %s: %w", path, err)
	}
	return &def, nil
}

// Validate checks the structural invariants from spec.md §3: every
// from/to is a known state; every event is in the events set, or is
// the timeout(N) form, or the wildcard source "*" (which is not a
// from/to state, but a transition source marker).
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("missing name")
	}
	if d.InitialState == "" {
		return fmt.Errorf("missing initial_state")
	}

	states := make(map[string]bool, len(d.States))
	for _, s := range d.States {
		states[s] = true
	}
	if !states[d.InitialState] {
		return fmt.Errorf("initial_state %q is not in states", d.InitialState)
	}

	events := make(map[string]bool, len(d.Events))
	for _, e := range d.Events {
		events[e] = true
	}

	for i, tr := range d.Transitions {
		if tr.From != WildcardSource && !states[tr.From] {
			return fmt.Errorf("transition %d: from %q is not in states", i, tr.From)
		}
		if !states[tr.To] {
			return fmt.Errorf("transition %d: to %q is not in states", i, tr.To)
		}
		if _, isTimeout := IsTimeoutEvent(tr.Event); !isTimeout && !events[tr.Event] {
			return fmt.Errorf("transition %d: event %q is not in events and is not timeout(N)", i, tr.Event)
		}
	}

	for state, actions := range d.Actions {
		if state != WildcardSource && !states[state] {
			return fmt.Errorf("actions declared for unknown state %q", state)
		}
		for i, a := range actions {
			if a.Type == "" {
				return fmt.Errorf("state %q action %d: missing type", state, i)
			}
		}
	}

	return nil
}

// TransitionsFrom returns every transition whose From matches state,
// in declared order, followed by every wildcard-sourced transition,
// also in declared order (spec.md §4.4 tick step 1 and §9's
// "evaluated after declared sources" rule).
func (d *Definition) TransitionsFrom(state string) []Transition {
	var direct, wildcard []Transition
	for _, tr := range d.Transitions {
		switch tr.From {
		case state:
			direct = append(direct, tr)
		case WildcardSource:
			wildcard = append(wildcard, tr)
		}
	}
	return append(direct, wildcard...)
}

// ActionsFor returns the configured action list for state, or nil if
// none are declared. The wildcard state "*" is also supported so a
// shutdown-style action list can run regardless of current state,
// matching the wildcard-source generalization in spec.md §9.
func (d *Definition) ActionsFor(state string) []ActionConfig {
	if state == WildcardSource {
		return d.Actions[state]
	}
	out := append([]ActionConfig(nil), d.Actions[state]...)
	return append(out, d.Actions[WildcardSource]...)
}
