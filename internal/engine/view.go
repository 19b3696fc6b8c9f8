package engine

import (
	"context"
	"fmt"

	"github.com/roach88/viewsync/internal/observability"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/wire"
)

// MountResult describes a completed mount.
type MountResult struct {
	ViewID  string        `json:"view_id"`
	Restore RestoreReport `json:"restore"`
	// Replayed counts history commands re-run on the new view.
	Replayed int `json:"replayed"`
	// Drained counts buffered commands applied after restoration.
	Drained int `json:"drained"`
}

// Status is a point-in-time summary of the engine.
type Status struct {
	ViewID      string         `json:"view_id,omitempty"`
	Ready       bool           `json:"ready"`
	ObservedID  int64          `json:"observed_id"`
	AppliedID   int64          `json:"applied_id"`
	Pending     []int64        `json:"pending"`
	History     int            `json:"history"`
	LastRestore *RestoreReport `json:"last_restore,omitempty"`
}

// Mount creates a view, restores persisted sources and layers onto it,
// replays the history that restoration does not cover, applies every
// buffered command in order and marks the view ready.
func (e *Engine) Mount(ctx context.Context) (MountResult, error) {
	var (
		res MountResult
		err error
	)
	if cerr := e.do(ctx, func(ctx context.Context) { res, err = e.mount(ctx) }); cerr != nil {
		return MountResult{}, cerr
	}
	return res, err
}

// Unmount tears the view down. Commands arriving afterwards are buffered
// until the next Mount.
func (e *Engine) Unmount(ctx context.Context) error {
	var err error
	if cerr := e.do(ctx, func(ctx context.Context) { err = e.unmount(ctx) }); cerr != nil {
		return cerr
	}
	return err
}

// Status reports cursors, buffered ids and the current view.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func(context.Context) {
		st = Status{
			Ready:      e.ready,
			ObservedID: e.queue.Observed(),
			AppliedID:  e.queue.Applied(),
			Pending:    e.queue.PendingIDs(),
			History:    len(e.queue.History()),
		}
		if e.view != nil {
			st.ViewID = e.view.ID()
		}
		if e.lastRestore != nil {
			r := *e.lastRestore
			st.LastRestore = &r
		}
	})
	return st, err
}

// State returns the persisted sources, layers and controls.
func (e *Engine) State(ctx context.Context) (state.Snapshot, error) {
	var snap state.Snapshot
	err := e.do(ctx, func(context.Context) { snap = e.state.Snapshot() })
	return snap, err
}

// Scene returns the live view's contents when the backend can report them.
func (e *Engine) Scene(ctx context.Context) (render.Scene, bool, error) {
	var (
		scene render.Scene
		ok    bool
	)
	err := e.do(ctx, func(context.Context) {
		if e.view == nil {
			return
		}
		if insp, isInspector := e.view.(render.Inspector); isInspector {
			scene, ok = insp.Scene(), true
		}
	})
	return scene, ok, err
}

// History returns the valid commands observed so far.
func (e *Engine) History(ctx context.Context) ([]wire.Command, error) {
	var cmds []wire.Command
	err := e.do(ctx, func(context.Context) { cmds = e.queue.History() })
	return cmds, err
}

// Flush waits until every message queued before the call is processed.
func (e *Engine) Flush(ctx context.Context) error {
	return e.do(ctx, func(context.Context) {})
}

// Methods returns the registered command methods.
func (e *Engine) Methods() []string {
	return e.table.Methods()
}

func (e *Engine) mount(ctx context.Context) (MountResult, error) {
	if e.view != nil {
		return MountResult{}, ErrViewMounted
	}

	view, err := e.backend.CreateView(ctx, e.emitter())
	observability.RecordViewLifecycle(PhaseMount, err == nil)
	if err != nil {
		e.trace(TraceEvent{Phase: PhaseMount, Outcome: OutcomeFailed})
		return MountResult{}, fmt.Errorf("create view: %w", err)
	}
	e.view, e.ready = view, false
	e.logger.Info("view created", "view_id", view.ID())
	e.trace(TraceEvent{Phase: PhaseMount, Outcome: OutcomeOK})

	report := e.restore(ctx, view)
	e.lastRestore = &report

	replayed := 0
	env := e.env()
	for _, cmd := range e.queue.AppliedHistory() {
		if !e.table.Replayable(env, cmd) {
			continue
		}
		e.dispatch(ctx, cmd, nil, PhaseReplay)
		replayed++
	}

	e.ready = true
	drained := e.queue.Drain(func(cmd wire.Command, rejected error) {
		e.dispatch(ctx, cmd, rejected, PhaseApply)
	})
	observability.SetPending(0)

	e.logger.Info("view ready",
		"view_id", view.ID(),
		"restored_sources", report.Sources,
		"restored_layers", report.Layers,
		"restore_failures", len(report.Failures),
		"replayed", replayed,
		"drained", drained,
	)
	return MountResult{
		ViewID:   view.ID(),
		Restore:  report,
		Replayed: replayed,
		Drained:  drained,
	}, nil
}

func (e *Engine) unmount(ctx context.Context) error {
	if e.view == nil {
		return ErrNoView
	}
	view := e.view
	e.view, e.ready = nil, false

	err := e.backend.TeardownView(ctx, view)
	observability.RecordViewLifecycle(PhaseUnmount, err == nil)
	if err != nil {
		e.trace(TraceEvent{Phase: PhaseUnmount, Outcome: OutcomeFailed})
		return fmt.Errorf("teardown view %s: %w", view.ID(), err)
	}
	e.logger.Info("view torn down", "view_id", view.ID())
	e.trace(TraceEvent{Phase: PhaseUnmount, Outcome: OutcomeOK})
	return nil
}

// emitter returns the callback handed to new views. Events are queued on
// the inbox so the event log commits on the engine goroutine, never while a
// handler has state staged.
func (e *Engine) emitter() render.Emitter {
	if e.events == nil {
		return func(eventType string, _ any) {
			e.logger.Debug("dropping view event: no event log", "type", eventType)
		}
	}
	return func(eventType string, data any) {
		m := message{kind: msgEvent, eventType: eventType, data: wire.CloneValue(data)}
		if !e.inbox.Enqueue(m) {
			e.logger.Debug("dropping view event: engine stopped", "type", eventType)
		}
	}
}
