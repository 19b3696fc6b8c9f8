package engine

import (
	"slices"

	"github.com/roach88/viewsync/internal/wire"
)

// Admission is the ingestion verdict for one delivered command.
type Admission int

const (
	// Admitted is a new command that must be applied.
	Admitted Admission = iota
	// AlreadyApplied is new to this process but at or below the persisted
	// applied cursor. It joins the history without being applied.
	AlreadyApplied
	// Duplicate is a redelivery of an observed id with the same content.
	Duplicate
	// Collision is a redelivery of an observed id with different content.
	// The first-seen command wins.
	Collision
	// OutOfOrder is an unseen id below the observed high-water mark.
	OutOfOrder
	// InvalidID is an id below 1.
	InvalidID
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case AlreadyApplied:
		return "already_applied"
	case Duplicate:
		return "duplicate"
	case Collision:
		return "collision"
	case OutOfOrder:
		return "out_of_order"
	case InvalidID:
		return "invalid_id"
	default:
		return "unknown"
	}
}

// queued is a command waiting for a ready view. rejected holds its
// ingestion validation error; rejected commands still consume their slot
// so the applied cursor never skips past an earlier buffered command.
type queued struct {
	cmd      wire.Command
	rejected error
}

// CommandQueue tracks the inbound command stream: the observed and applied
// cursors, the history of valid commands and the commands buffered while no
// view is ready.
//
// CommandQueue is not safe for concurrent use; the engine goroutine owns it.
type CommandQueue struct {
	observed int64
	applied  int64
	digests  map[int64]string
	history  []wire.Command
	pending  []queued
}

// NewCommandQueue returns a queue resuming from a persisted applied cursor.
func NewCommandQueue(applied int64) *CommandQueue {
	return &CommandQueue{
		applied: applied,
		digests: map[int64]string{},
	}
}

// Admit classifies cmd and, for new ids, records its digest and raises the
// observed cursor.
func (q *CommandQueue) Admit(cmd wire.Command) (Admission, error) {
	if cmd.ID <= 0 {
		return InvalidID, nil
	}
	digest, err := wire.CommandDigest(cmd)
	if err != nil {
		return InvalidID, err
	}
	if prev, ok := q.digests[cmd.ID]; ok {
		if prev != digest {
			return Collision, nil
		}
		return Duplicate, nil
	}
	if cmd.ID <= q.observed {
		return OutOfOrder, nil
	}

	q.digests[cmd.ID] = digest
	q.observed = cmd.ID
	if cmd.ID <= q.applied {
		return AlreadyApplied, nil
	}
	return Admitted, nil
}

// Record appends a valid command to the history.
func (q *CommandQueue) Record(cmd wire.Command) {
	q.history = append(q.history, cmd)
}

// Push buffers cmd until a view is ready.
func (q *CommandQueue) Push(cmd wire.Command, rejected error) {
	q.pending = append(q.pending, queued{cmd: cmd, rejected: rejected})
}

// Next pops the oldest buffered command.
func (q *CommandQueue) Next() (queued, bool) {
	if len(q.pending) == 0 {
		return queued{}, false
	}
	next := q.pending[0]
	q.pending[0] = queued{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return next, true
}

// Drain pops every buffered command in FIFO order and hands each to apply,
// which must finish before the next is popped. Returns how many ran.
func (q *CommandQueue) Drain(apply func(cmd wire.Command, rejected error)) int {
	n := 0
	for {
		next, ok := q.Next()
		if !ok {
			return n
		}
		apply(next.cmd, next.rejected)
		n++
	}
}

// MarkApplied advances the applied cursor to id. It never moves backwards.
func (q *CommandQueue) MarkApplied(id int64) bool {
	if id <= q.applied {
		return false
	}
	q.applied = id
	return true
}

// Observed returns the highest command id seen.
func (q *CommandQueue) Observed() int64 { return q.observed }

// Applied returns the highest command id dispatched.
func (q *CommandQueue) Applied() int64 { return q.applied }

// Pending returns the number of buffered commands.
func (q *CommandQueue) Pending() int { return len(q.pending) }

// PendingIDs returns buffered command ids in order.
func (q *CommandQueue) PendingIDs() []int64 {
	ids := make([]int64, len(q.pending))
	for i, p := range q.pending {
		ids[i] = p.cmd.ID
	}
	return ids
}

// History returns the valid commands observed so far, in id order.
func (q *CommandQueue) History() []wire.Command {
	return slices.Clone(q.history)
}

// AppliedHistory returns the history entries at or below the applied cursor.
func (q *CommandQueue) AppliedHistory() []wire.Command {
	out := make([]wire.Command, 0, len(q.history))
	for _, cmd := range q.history {
		if cmd.ID <= q.applied {
			out = append(out, cmd)
		}
	}
	return out
}
