package harness

import (
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/wire"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds engine trace events in the order they happened, across
	// restarts.
	Trace []engine.TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Status, State, Scene and Events are captured after the last step.
	Status engine.Status `json:"status"`
	State  state.Snapshot `json:"state"`
	Scene  *render.Scene  `json:"scene,omitempty"`
	Events []wire.Event   `json:"events"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.TraceEvent{},
		Errors: []string{},
		Events: []wire.Event{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an engine trace event.
func (r *Result) AddTrace(ev engine.TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
