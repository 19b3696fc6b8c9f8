package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/wire"
)

func intPtr(n int) *int { return &n }

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []engine.TraceEvent{
		{Phase: engine.PhaseMount, Outcome: engine.OutcomeOK},
		{Phase: engine.PhaseRestore, Entity: "layer", EntityID: "basemap-1", Outcome: engine.OutcomeOK},
		{Phase: engine.PhaseApply, CommandID: 1, Method: "addSource", Outcome: engine.OutcomeOK},
		{Phase: engine.PhaseApply, CommandID: 2, Method: "addLayer", Outcome: engine.OutcomeHandlerFailure},
	}
	r.Status = engine.Status{ViewID: "view-1", Ready: true, AppliedID: 2, ObservedID: 2}
	r.State = state.Snapshot{
		Sources:  []wire.SourceRecord{{ID: "s1"}},
		Layers:   []wire.LayerRecord{{ID: "basemap-1", Kind: "raster"}},
		Controls: []wire.ControlRecord{},
	}
	r.Scene = &render.Scene{
		ViewID:  "view-1",
		Sources: []wire.SourceRecord{{ID: "s1"}},
		Layers:  []wire.LayerRecord{{ID: "basemap-1"}, {ID: "markers"}},
	}
	r.Events = []wire.Event{{Type: "click", Timestamp: 1}}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertRenderOrder, Layers: []string{"basemap-1", "markers"}},
		{Type: AssertAppliedID, Value: 2},
		{Type: AssertEntityCount, Entity: "layers", Count: intPtr(2)},
		{Type: AssertEntityCount, Entity: "layers", In: "store", Count: intPtr(1)},
		{Type: AssertEntityCount, Entity: "controls", In: "store", Count: intPtr(0)},
		{Type: AssertStoreContains, Entity: "source", ID: "s1"},
		{Type: AssertStoreAbsent, Entity: "layer", ID: "markers"},
		{Type: AssertEventCount, Count: intPtr(1)},
		{Type: AssertTraceContains, Phase: engine.PhaseApply, Method: "addLayer", Outcome: engine.OutcomeHandlerFailure},
		{Type: AssertTraceContains, Phase: engine.PhaseRestore, EntityID: "basemap-1"},
		{Type: AssertTraceCount, Phase: engine.PhaseApply, Count: intPtr(2)},
		{Type: AssertTraceCount, Phase: engine.PhaseReplay, Count: intPtr(0)},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "render order",
			assertion: Assertion{Type: AssertRenderOrder, Layers: []string{"markers", "basemap-1"}},
			want:      "Actual: layers [basemap-1 markers]",
		},
		{
			name:      "applied id",
			assertion: Assertion{Type: AssertAppliedID, Value: 3},
			want:      "Expected: applied id 3",
		},
		{
			name:      "entity count",
			assertion: Assertion{Type: AssertEntityCount, Entity: "sources", Count: intPtr(4)},
			want:      "Actual: 1 sources",
		},
		{
			name:      "store contains",
			assertion: Assertion{Type: AssertStoreContains, Entity: "control", ID: "navigation"},
			want:      `control "navigation" present in store`,
		},
		{
			name:      "store absent",
			assertion: Assertion{Type: AssertStoreAbsent, Entity: "layer", ID: "basemap-1"},
			want:      `layer "basemap-1" absent in store`,
		},
		{
			name:      "event count",
			assertion: Assertion{Type: AssertEventCount, Count: intPtr(0)},
			want:      "Actual: 1 events [click]",
		},
		{
			name:      "trace contains",
			assertion: Assertion{Type: AssertTraceContains, Phase: engine.PhaseReplay},
			want:      "not found in trace",
		},
		{
			name:      "trace count",
			assertion: Assertion{Type: AssertTraceCount, Phase: engine.PhaseApply, Outcome: engine.OutcomeOK, Count: intPtr(2)},
			want:      "Actual: 1 occurrences",
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "vibes"},
			want:      `unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestEvaluateAssertions_NoView(t *testing.T) {
	r := sampleResult()
	r.Scene = nil

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertRenderOrder, Layers: []string{}},
		{Type: AssertEntityCount, Entity: "layers", Count: intPtr(0)},
	})
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Contains(t, e, "no view mounted")
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "x",
		Actual:   "y",
		Trace:    sampleResult().Trace,
	}
	msg := err.Error()
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[3] apply #1 addSource -> ok")
	assert.Contains(t, msg, "[2] restore layer=basemap-1 -> ok")
}
