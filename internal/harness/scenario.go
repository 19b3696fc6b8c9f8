package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/wire"
)

// Scenario is one end-to-end run: optional persisted state, a list of steps
// driving the engine, and assertions over the final state and trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Profile overrides the default layer classification profile.
	Profile *render.Profile `yaml:"profile,omitempty"`

	// Store is written to the channel before the engine opens.
	Store *state.Snapshot `yaml:"store,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Commands are appended to the control plane's list, which is then
	// delivered whole.
	Commands []Command `yaml:"commands,omitempty"`

	// Redeliver sends the current list again unchanged.
	Redeliver bool `yaml:"redeliver,omitempty"`

	Mount   bool `yaml:"mount,omitempty"`
	Unmount bool `yaml:"unmount,omitempty"`

	// Restart stops the engine and opens a new one on the same database.
	Restart bool `yaml:"restart,omitempty"`

	// Emit simulates a user interaction on the live view.
	Emit *EmitStep `yaml:"emit,omitempty"`

	// Fail injects a backend failure for every later matching operation.
	Fail *FailStep `yaml:"fail,omitempty"`
}

// Command is a control-plane command as written in YAML.
type Command struct {
	ID     int64          `yaml:"id"`
	Method string         `yaml:"method"`
	Args   []any          `yaml:"args,omitempty"`
	Kwargs map[string]any `yaml:"kwargs,omitempty"`
}

// Wire converts c to its wire form.
func (c Command) Wire() wire.Command {
	return wire.Command{ID: c.ID, Method: c.Method, Args: c.Args, Kwargs: c.Kwargs}.Normalize()
}

// EmitStep is a simulated interaction event.
type EmitStep struct {
	Type string `yaml:"type"`
	Data any    `yaml:"data,omitempty"`
}

// FailStep names a backend operation and entity id to fail. An empty id
// fails every entity.
type FailStep struct {
	Op string `yaml:"op"`
	ID string `yaml:"id,omitempty"`
}

// Assertion validates the final state or trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Layers is the expected live layer order (render_order).
	Layers []string `yaml:"layers,omitempty"`

	// Value is the expected applied cursor (applied_id).
	Value int64 `yaml:"value,omitempty"`

	// Entity is "sources", "layers" or "controls" for entity_count, and
	// "source", "layer" or "control" for store_contains/store_absent. For
	// trace matching it filters the trace event entity.
	Entity string `yaml:"entity,omitempty"`

	// In selects "view" (default) or "store" for entity_count.
	In string `yaml:"in,omitempty"`

	// ID is the record id for store_contains/store_absent.
	ID string `yaml:"id,omitempty"`

	// Count is the expected number (entity_count, event_count, trace_count).
	Count *int `yaml:"count,omitempty"`

	// Trace event fields for trace_contains/trace_count. Empty fields match
	// anything.
	Phase     string `yaml:"phase,omitempty"`
	CommandID int64  `yaml:"command_id,omitempty"`
	Method    string `yaml:"method,omitempty"`
	EntityID  string `yaml:"entity_id,omitempty"`
	Outcome   string `yaml:"outcome,omitempty"`
}

// Assertion type constants.
const (
	AssertRenderOrder   = "render_order"
	AssertAppliedID     = "applied_id"
	AssertEntityCount   = "entity_count"
	AssertStoreContains = "store_contains"
	AssertStoreAbsent   = "store_absent"
	AssertEventCount    = "event_count"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by path.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Profile != nil {
		if err := s.Profile.Validate(); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	for _, on := range []bool{
		len(step.Commands) > 0, step.Redeliver, step.Mount, step.Unmount,
		step.Restart, step.Emit != nil, step.Fail != nil,
	} {
		if on {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}

	for j, c := range step.Commands {
		if c.ID <= 0 {
			return fmt.Errorf("steps[%d].commands[%d]: id must be positive", index, j)
		}
		if c.Method == "" {
			return fmt.Errorf("steps[%d].commands[%d]: method is required", index, j)
		}
	}
	if step.Emit != nil && step.Emit.Type == "" {
		return fmt.Errorf("steps[%d].emit: type is required", index)
	}
	if step.Fail != nil && step.Fail.Op == "" {
		return fmt.Errorf("steps[%d].fail: op is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRenderOrder:
		if a.Layers == nil {
			return fmt.Errorf("assertions[%d]: layers is required for render_order", index)
		}
	case AssertAppliedID:
	case AssertEntityCount:
		switch a.Entity {
		case "sources", "layers", "controls":
		default:
			return fmt.Errorf("assertions[%d]: entity must be sources, layers or controls for entity_count", index)
		}
		if a.In != "" && a.In != "view" && a.In != "store" {
			return fmt.Errorf("assertions[%d]: in must be view or store", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for entity_count", index)
		}
	case AssertStoreContains, AssertStoreAbsent:
		switch a.Entity {
		case "source", "layer", "control":
		default:
			return fmt.Errorf("assertions[%d]: entity must be source, layer or control for %s", index, a.Type)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertEventCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for event_count", index)
		}
	case AssertTraceContains:
		if a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
