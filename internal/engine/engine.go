package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/dispatch"
	"github.com/roach88/viewsync/internal/eventlog"
	"github.com/roach88/viewsync/internal/observability"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/wire"
)

// TracerName is the instrumentation scope used for engine spans.
const TracerName = "github.com/roach88/viewsync/internal/engine"

// Env is what a handler sees: the live view (nil when none), the persisted
// state mirror and the layer profile.
type Env struct {
	View    render.View
	State   *state.Store
	Profile render.Profile
	Logger  *slog.Logger
}

func (env *Env) logger() *slog.Logger {
	if env.Logger == nil {
		return slog.Default()
	}
	return env.Logger
}

// Engine is the single-writer command loop.
//
// Channel callbacks and API calls only enqueue; every view mutation, state
// write and cursor advance happens on the goroutine running Run.
//
// Thread-safety model:
//   - Mount, Unmount, Status, State, Scene, Flush: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	ch       channel.Channel
	backend  render.Backend
	profile  render.Profile
	cursors  CursorStore
	events   *eventlog.Log
	logger   *slog.Logger
	observer Observer
	table    *dispatch.Table[*Env]

	inbox   *inbox
	cancel  func()
	running atomic.Bool
	stopped chan struct{}

	// Owned by the Run goroutine.
	state       *state.Store
	queue       *CommandQueue
	view        render.View
	ready       bool
	lastRestore *RestoreReport
}

// Option configures an Engine.
type Option func(*Engine)

// WithCursorStore persists the applied cursor. Without it the cursor lives
// in memory and every restart re-applies the full command list.
func WithCursorStore(c CursorStore) Option {
	return func(e *Engine) { e.cursors = c }
}

// WithEventLog routes view interaction events into log.
func WithEventLog(log *eventlog.Log) Option {
	return func(e *Engine) { e.events = log }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver registers fn to receive trace events.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithTable replaces the built-in dispatch table.
func WithTable(t *dispatch.Table[*Env]) Option {
	return func(e *Engine) { e.table = t }
}

// Open loads persisted state and the applied cursor, subscribes to the
// command key and queues whatever commands the channel already holds.
// Nothing is applied until Run starts and a view is mounted.
func Open(ctx context.Context, ch channel.Channel, backend render.Backend, opts ...Option) (*Engine, error) {
	if ch == nil {
		return nil, errors.New("open engine: nil channel")
	}
	if backend == nil {
		return nil, errors.New("open engine: nil render backend")
	}

	e := &Engine{
		ch:      ch,
		backend: backend,
		profile: backend.Profile(),
		cursors: NewMemoryCursors(),
		logger:  slog.Default(),
		inbox:   newInbox(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.profile.Validate(); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	if e.table == nil {
		e.table = NewTable(e.logger)
	}

	st, err := state.Load(ch, e.profile)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	e.state = st

	applied, err := e.cursors.LoadCursor(ctx, CursorApplied)
	if err != nil {
		return nil, fmt.Errorf("open engine: load applied cursor: %w", err)
	}
	e.queue = NewCommandQueue(applied)

	e.cancel = ch.OnChange(wire.KeyCommands, func(raw json.RawMessage) {
		e.inbox.Enqueue(message{kind: msgCommands, raw: slices.Clone(raw)})
	})
	if raw, ok := ch.Get(wire.KeyCommands); ok {
		e.inbox.Enqueue(message{kind: msgCommands, raw: slices.Clone(raw)})
	}

	e.logger.Info("engine opened",
		"profile", e.profile.Name,
		"applied_id", applied,
		"sources", len(st.Sources()),
		"layers", len(st.Layers()),
	)
	return e, nil
}

// Run processes the inbox until ctx is cancelled or Stop is called.
// On exit the live view, if any, is torn down.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.shutdown(ctx)

	e.logger.Info("engine starting",
		"applied_id", e.queue.Applied(),
		"queued", e.inbox.Len(),
	)

	for {
		if m, ok := e.inbox.TryDequeue(); ok {
			e.process(ctx, m)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.inbox.Close()
			return ctx.Err()

		case <-e.inbox.Wait():
			// The signal channel is closed by Stop; a stale signal just
			// loops back to TryDequeue.
			if e.inbox.Closed() && e.inbox.Len() == 0 {
				e.logger.Info("engine stopping: inbox closed")
				return nil
			}
		}
	}
}

// Stop makes Run return once the messages already queued are processed.
func (e *Engine) Stop() {
	e.inbox.Close()
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

func (e *Engine) shutdown(ctx context.Context) {
	e.cancel()
	if e.view != nil {
		view := e.view
		e.view, e.ready = nil, false
		if err := e.backend.TeardownView(context.WithoutCancel(ctx), view); err != nil {
			e.logger.Warn("teardown on shutdown failed", "view_id", view.ID(), "error", err)
		}
	}
	if dropped := len(e.inbox.Drain()); dropped > 0 {
		e.logger.Warn("dropping queued messages on shutdown", "count", dropped)
	}
	close(e.stopped)
	e.logger.Info("engine stopped",
		"observed_id", e.queue.Observed(),
		"applied_id", e.queue.Applied(),
	)
}

// process routes one inbox message.
// CRITICAL: Called only from the Run goroutine.
func (e *Engine) process(ctx context.Context, m message) {
	switch m.kind {
	case msgCommands:
		e.ingest(ctx, m.raw)
	case msgCall:
		m.call(ctx)
		close(m.done)
	case msgEvent:
		if _, err := e.events.Append(ctx, m.eventType, m.data); err != nil {
			e.logger.Error("failed to append view event", "type", m.eventType, "error", err)
		}
	default:
		e.logger.Error("unknown inbox message", "kind", m.kind)
	}
}

// do runs fn on the engine goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	if !e.inbox.Enqueue(message{kind: msgCall, call: fn, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// inbound is one decoded entry of a command delivery. rejected is set for
// entries that failed to decode.
type inbound struct {
	cmd      wire.Command
	rejected error
}

// ingest admits every command in one delivery of the command key.
func (e *Engine) ingest(ctx context.Context, raw json.RawMessage) {
	cmds, malformed, err := wire.DecodeCommandList(raw)
	if err != nil {
		e.logger.Warn("ignoring undecodable command list", "error", err)
		observability.RecordDropped("decode")
		return
	}

	batch := make([]inbound, 0, len(cmds)+len(malformed))
	for _, cmd := range cmds {
		batch = append(batch, inbound{cmd: cmd})
	}
	for _, m := range malformed {
		if m.ID <= 0 {
			e.logger.Warn("dropping undecodable command",
				"index", m.Index, "method", m.Method, "error", m.Err)
			observability.RecordDropped("decode")
			continue
		}
		// A readable id still takes its slot so the cursor can pass it.
		rejected := &dispatch.Error{
			Code:      dispatch.CodeInvalidArguments,
			Method:    m.Method,
			CommandID: m.ID,
			Message:   m.Err.Error(),
			Err:       m.Err,
		}
		stub := wire.Command{ID: m.ID, Method: m.Method}.Normalize()
		batch = append(batch, inbound{cmd: stub, rejected: rejected})
	}
	slices.SortStableFunc(batch, func(a, b inbound) int { return cmp.Compare(a.cmd.ID, b.cmd.ID) })

	for _, in := range batch {
		cmd := in.cmd
		adm, err := e.queue.Admit(cmd)
		switch adm {
		case Duplicate:
			continue
		case InvalidID:
			e.logger.Warn("dropping command with invalid id",
				"command_id", cmd.ID, "method", cmd.Method, "error", err)
			observability.RecordDropped(adm.String())
			continue
		case Collision:
			e.logger.Warn("command id collision: keeping first-seen command",
				"command_id", cmd.ID, "method", cmd.Method)
			observability.RecordDropped(adm.String())
			e.trace(TraceEvent{Phase: PhaseObserve, CommandID: cmd.ID, Method: cmd.Method, Outcome: OutcomeCollision})
			continue
		case OutOfOrder:
			e.logger.Warn("dropping out-of-order command",
				"command_id", cmd.ID, "method", cmd.Method, "observed_id", e.queue.Observed())
			observability.RecordDropped(adm.String())
			e.trace(TraceEvent{Phase: PhaseObserve, CommandID: cmd.ID, Method: cmd.Method, Outcome: OutcomeOutOfOrder})
			continue
		}

		observability.RecordObserved(cmd.Method)
		verr := in.rejected
		if verr == nil {
			verr = e.table.Validate(cmd)
		}
		if verr == nil {
			e.queue.Record(cmd)
		}

		if adm == AlreadyApplied {
			e.logger.Debug("command already applied before restart", "command_id", cmd.ID, "method", cmd.Method)
			continue
		}

		if e.ready {
			e.dispatch(ctx, cmd, verr, PhaseApply)
		} else {
			e.queue.Push(cmd, verr)
			e.logger.Debug("buffering command until a view is ready", "command_id", cmd.ID, "method", cmd.Method)
		}
	}

	observability.SetPending(e.queue.Pending())
	observability.SetCursors(e.queue.Observed(), e.queue.Applied())
}

// dispatch runs cmd (or records its rejection), commits the channel and,
// for live applies, advances the applied cursor. A failure is logged and
// counted; it never stops the engine.
func (e *Engine) dispatch(ctx context.Context, cmd wire.Command, rejected error, phase string) {
	err := rejected
	if err == nil {
		err = e.table.Execute(ctx, e.env(), cmd)
	} else {
		e.logger.Warn("rejecting command",
			"command_id", cmd.ID,
			"method", cmd.Method,
			"code", dispatch.CodeOf(err),
			"error", err,
		)
	}

	outcome := outcomeOf(err)
	observability.RecordDispatch(cmd.Method, outcome)
	e.trace(TraceEvent{Phase: phase, CommandID: cmd.ID, Method: cmd.Method, Outcome: outcome})

	if cerr := e.ch.Commit(ctx); cerr != nil {
		e.logger.Error("commit after command failed", "command_id", cmd.ID, "error", cerr)
	}

	if phase == PhaseApply {
		e.advance(ctx, cmd.ID)
	}
}

func (e *Engine) advance(ctx context.Context, id int64) {
	if !e.queue.MarkApplied(id) {
		return
	}
	if err := e.cursors.SaveCursor(ctx, CursorApplied, e.queue.Applied()); err != nil {
		e.logger.Error("persist applied cursor failed", "applied_id", e.queue.Applied(), "error", err)
	}
	observability.SetCursors(e.queue.Observed(), e.queue.Applied())
}

func (e *Engine) env() *Env {
	return &Env{
		View:    e.view,
		State:   e.state,
		Profile: e.profile,
		Logger:  e.logger,
	}
}

func (e *Engine) trace(ev TraceEvent) {
	if e.observer != nil {
		e.observer(ev)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	switch dispatch.CodeOf(err) {
	case dispatch.CodeUnknownMethod:
		return OutcomeUnknownMethod
	case dispatch.CodeInvalidArguments:
		return OutcomeInvalidArguments
	default:
		return OutcomeHandlerFailure
	}
}
