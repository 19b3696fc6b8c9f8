// Package eventlog is the outbound event queue: interaction events flowing
// from the runtime to the control plane.
//
// Every Append stamps the event, rewrites the full log under the _events
// channel key and commits. There is no deduplication and no backpressure.
// When the control plane overwrites _events (typically to clear it), the
// in-memory log is replaced by what it wrote.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/wire"
)

// Log is safe for concurrent use. The engine appends view events from its
// own goroutine; a commit flushes every staged channel key, so other callers
// should only append when no state write can be pending.
type Log struct {
	ch       channel.Channel
	clock    *Clock
	logger   *slog.Logger
	onAppend func(wire.Event)
	cancel   func()

	mu     sync.Mutex
	events []wire.Event
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the timestamp source.
func WithClock(c *Clock) Option {
	return func(l *Log) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithObserver registers fn to run after every successful append.
func WithObserver(fn func(wire.Event)) Option {
	return func(l *Log) { l.onAppend = fn }
}

// Open loads the persisted log from ch and starts following remote writes.
func Open(ch channel.Channel, opts ...Option) (*Log, error) {
	l := &Log{
		ch:     ch,
		clock:  NewClock(nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	raw, _ := ch.Get(wire.KeyEvents)
	events, err := wire.DecodeEvents(raw)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l.events = events

	l.cancel = ch.OnChange(wire.KeyEvents, l.replace)
	return l, nil
}

// Append stamps and records an event, then commits the channel.
func (l *Log) Append(ctx context.Context, eventType string, data any) (wire.Event, error) {
	l.mu.Lock()
	ev := wire.Event{
		Type:      eventType,
		Data:      wire.CloneValue(data),
		Timestamp: l.clock.Stamp(),
	}
	l.events = append(l.events, ev)
	err := l.ch.Set(wire.KeyEvents, l.events)
	l.mu.Unlock()
	if err != nil {
		return wire.Event{}, fmt.Errorf("append event %s: %w", eventType, err)
	}

	// Commit runs outside mu: a concurrent remote replace holds the
	// channel's commit lock while it waits for mu.
	if err := l.ch.Commit(ctx); err != nil {
		return wire.Event{}, fmt.Errorf("append event %s: %w", eventType, err)
	}

	if l.onAppend != nil {
		l.onAppend(ev)
	}
	return ev, nil
}

// Events returns a copy of the log.
func (l *Log) Events() []wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Close stops following remote writes.
func (l *Log) Close() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Log) replace(raw json.RawMessage) {
	events, err := wire.DecodeEvents(raw)
	if err != nil {
		l.logger.Warn("ignoring malformed remote event log", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}
