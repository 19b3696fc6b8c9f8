package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/wire"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string              `json:"scenario_name"`
	Trace        []engine.TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any, keeping
// only the fields each event sets.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"phase":   ev.Phase,
			"outcome": ev.Outcome,
		}
		if ev.CommandID != 0 {
			m["command_id"] = ev.CommandID
		}
		if ev.Method != "" {
			m["method"] = ev.Method
		}
		if ev.Entity != "" {
			m["entity"] = ev.Entity
		}
		if ev.EntityID != "" {
			m["entity_id"] = ev.EntityID
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace renders a trace as canonical JSON, the golden file format.
func MarshalTrace(name string, trace []engine.TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: trace}
	return wire.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
