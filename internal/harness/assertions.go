package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/wire"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string              // Assertion type for categorization
	Expected string              // Human-readable expected outcome
	Actual   string              // Human-readable actual outcome
	Trace    []engine.TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatTraceEvent(ev))
		}
	}
	return buf.String()
}

func formatTraceEvent(ev engine.TraceEvent) string {
	var parts []string
	parts = append(parts, ev.Phase)
	if ev.CommandID != 0 {
		parts = append(parts, fmt.Sprintf("#%d", ev.CommandID))
	}
	if ev.Method != "" {
		parts = append(parts, ev.Method)
	}
	if ev.Entity != "" {
		parts = append(parts, ev.Entity+"="+ev.EntityID)
	}
	parts = append(parts, "-> "+ev.Outcome)
	return strings.Join(parts, " ")
}

// matchesTrace reports whether ev satisfies every field a sets.
func matchesTrace(ev engine.TraceEvent, a Assertion) bool {
	if a.Phase != "" && ev.Phase != a.Phase {
		return false
	}
	if a.CommandID != 0 && ev.CommandID != a.CommandID {
		return false
	}
	if a.Method != "" && ev.Method != a.Method {
		return false
	}
	if a.Entity != "" && ev.Entity != a.Entity {
		return false
	}
	if a.EntityID != "" && ev.EntityID != a.EntityID {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	return true
}

func describeTraceMatch(a Assertion) string {
	return formatTraceEvent(engine.TraceEvent{
		Phase:     a.Phase,
		CommandID: a.CommandID,
		Method:    a.Method,
		Entity:    a.Entity,
		EntityID:  a.EntityID,
		Outcome:   a.Outcome,
	})
}

// assertTraceContains checks that at least one trace event matches.
func assertTraceContains(trace []engine.TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchesTrace(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeTraceMatch(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks the number of matching trace events.
func assertTraceCount(trace []engine.TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesTrace(ev, a) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, describeTraceMatch(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRenderOrder compares the live view's layer order bottom to top.
func assertRenderOrder(result *Result, a Assertion) error {
	if result.Scene == nil {
		return &AssertionError{
			Type:     AssertRenderOrder,
			Expected: fmt.Sprintf("layers %v", a.Layers),
			Actual:   "no view mounted",
		}
	}
	actual := make([]string, len(result.Scene.Layers))
	for i, l := range result.Scene.Layers {
		actual[i] = l.ID
	}
	if !slices.Equal(actual, a.Layers) {
		return &AssertionError{
			Type:     AssertRenderOrder,
			Expected: fmt.Sprintf("layers %v", a.Layers),
			Actual:   fmt.Sprintf("layers %v", actual),
		}
	}
	return nil
}

func assertAppliedID(result *Result, a Assertion) error {
	if result.Status.AppliedID != a.Value {
		return &AssertionError{
			Type:     AssertAppliedID,
			Expected: fmt.Sprintf("applied id %d", a.Value),
			Actual:   fmt.Sprintf("applied id %d", result.Status.AppliedID),
		}
	}
	return nil
}

func assertEntityCount(result *Result, a Assertion) error {
	where := a.In
	if where == "" {
		where = "view"
	}

	var n int
	switch where {
	case "store":
		switch a.Entity {
		case "sources":
			n = len(result.State.Sources)
		case "layers":
			n = len(result.State.Layers)
		case "controls":
			n = len(result.State.Controls)
		}
	default:
		if result.Scene == nil {
			return &AssertionError{
				Type:     AssertEntityCount,
				Expected: fmt.Sprintf("%d %s in view", *a.Count, a.Entity),
				Actual:   "no view mounted",
			}
		}
		switch a.Entity {
		case "sources":
			n = len(result.Scene.Sources)
		case "layers":
			n = len(result.Scene.Layers)
		case "controls":
			n = len(result.Scene.Controls)
		}
	}

	if n != *a.Count {
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d %s in %s", *a.Count, a.Entity, where),
			Actual:   fmt.Sprintf("%d %s", n, a.Entity),
		}
	}
	return nil
}

// storeHas reports whether the persisted snapshot holds the record.
func storeHas(result *Result, entity, id string) bool {
	switch entity {
	case "source":
		return slices.ContainsFunc(result.State.Sources, func(r wire.SourceRecord) bool { return r.ID == id })
	case "layer":
		return slices.ContainsFunc(result.State.Layers, func(r wire.LayerRecord) bool { return r.ID == id })
	case "control":
		return slices.ContainsFunc(result.State.Controls, func(r wire.ControlRecord) bool { return r.ID == id })
	}
	return false
}

func assertStore(result *Result, a Assertion) error {
	want := a.Type == AssertStoreContains
	if storeHas(result, a.Entity, a.ID) == want {
		return nil
	}
	expected, actual := "present", "absent"
	if !want {
		expected, actual = actual, expected
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %q %s in store", a.Entity, a.ID, expected),
		Actual:   actual,
	}
}

func assertEventCount(result *Result, a Assertion) error {
	if len(result.Events) != *a.Count {
		types := make([]string, len(result.Events))
		for i, ev := range result.Events {
			types[i] = ev.Type
		}
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d events", *a.Count),
			Actual:   fmt.Sprintf("%d events %v", len(result.Events), types),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRenderOrder:
			err = assertRenderOrder(result, assertion)
		case AssertAppliedID:
			err = assertAppliedID(result, assertion)
		case AssertEntityCount:
			err = assertEntityCount(result, assertion)
		case AssertStoreContains, AssertStoreAbsent:
			err = assertStore(result, assertion)
		case AssertEventCount:
			err = assertEventCount(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
