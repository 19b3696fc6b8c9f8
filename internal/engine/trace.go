package engine

// Trace phases.
const (
	PhaseMount   = "mount"
	PhaseUnmount = "unmount"
	PhaseRestore = "restore"
	PhaseReplay  = "replay"
	PhaseApply   = "apply"
	PhaseObserve = "observe"
)

// Trace outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeFailed           = "failed"
	OutcomeSkipped          = "skipped"
	OutcomeHandlerFailure   = "handler_failure"
	OutcomeUnknownMethod    = "unknown_method"
	OutcomeInvalidArguments = "invalid_arguments"
	OutcomeCollision        = "collision"
	OutcomeOutOfOrder       = "out_of_order"
)

// TraceEvent is one observable step of the engine, used by the scenario
// harness to compare runs against golden files.
type TraceEvent struct {
	Phase     string `json:"phase"`
	CommandID int64  `json:"command_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Entity    string `json:"entity,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Outcome   string `json:"outcome"`
}

// Observer receives trace events on the engine goroutine. It must not block
// or call back into the engine.
type Observer func(TraceEvent)
