package engine

import (
	"context"
	"encoding/json"
	"sync"
)

// messageKind distinguishes inbox entries.
type messageKind int

const (
	// msgCommands carries a delivery of the _commands key.
	msgCommands messageKind = iota + 1
	// msgCall runs a closure on the engine goroutine (mount, unmount, reads).
	msgCall
	// msgEvent carries an interaction event emitted by the view.
	msgEvent
)

// message is one inbox entry.
type message struct {
	kind      messageKind
	raw       json.RawMessage
	call      func(ctx context.Context)
	done      chan struct{}
	eventType string
	data      any
}

// inbox is a thread-safe FIFO of messages for the Run loop.
//
// Channel callbacks and API callers enqueue from any goroutine; only Run
// dequeues. The queue is unbounded so a channel callback never blocks the
// channel's commit path.
//
// The size-1 signal channel lets Run wait on ctx and new work in one select.
type inbox struct {
	mu     sync.Mutex
	items  []message
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		items:  make([]message, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds m to the back of the inbox.
// Returns false if the inbox is closed.
func (q *inbox) Enqueue(m message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, m)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front message without blocking.
func (q *inbox) TryDequeue() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return message{}, false
	}

	m := q.items[0]

	// Clear the slot so the backing array does not pin payloads.
	q.items[0] = message{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return m, true
}

// Wait returns a channel that signals when messages may be available.
// It is closed by Close.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes the waiter.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every queued message.
func (q *inbox) Drain() []message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
