package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/eventlog"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/render/headless"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/store"
	"github.com/roach88/viewsync/internal/testutil"
	"github.com/roach88/viewsync/internal/wire"
)

// Namespace is the store namespace scenarios run in.
const Namespace = "scenario"

// clockStart is the first event timestamp (2024-01-01T00:00:00Z).
const clockStart = 1704067200000

// Harness drives one scenario: a database, a headless backend and the
// engine currently running on them.
type Harness struct {
	store   *store.Store
	bucket  *store.Bucket
	backend *headless.Backend
	clock   *testutil.StepClock
	logger  *slog.Logger
	result  *Result

	ch       *channel.Local
	events   *eventlog.Log
	engine   *engine.Engine
	cancel   context.CancelFunc
	commands []wire.Command
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and seed the persisted store
// 2. Open and start the engine
// 3. Execute steps in order
// 4. Capture final status, state, scene and events
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, testutil.DiscardLogger())
}

// RunWithLogger is Run with an explicit logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	profile := render.DefaultProfile()
	if scenario.Profile != nil {
		profile = *scenario.Profile
	}

	h := &Harness{
		store:   st,
		bucket:  st.Namespace(Namespace),
		backend: headless.New(profile, headless.WithIDGenerator(headless.SequentialIDs())),
		clock:   testutil.NewStepClock(clockStart, 1000),
		logger:  logger,
		result:  NewResult(),
	}

	ctx := context.Background()
	if scenario.Store != nil {
		if err := h.seed(ctx, *scenario.Store); err != nil {
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
	}

	if err := h.start(ctx); err != nil {
		return nil, err
	}
	defer h.stop()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}

	if err := h.capture(ctx); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) seed(ctx context.Context, snap state.Snapshot) error {
	ch, err := channel.Open(ctx, h.bucket)
	if err != nil {
		return err
	}
	if err := state.Seed(ch, snap); err != nil {
		return err
	}
	return ch.Commit(ctx)
}

// start opens a channel on the scenario database and runs a new engine.
func (h *Harness) start(ctx context.Context) error {
	ch, err := channel.Open(ctx, h.bucket)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	events, err := eventlog.Open(ch,
		eventlog.WithClock(eventlog.NewClock(h.clock.Now)),
		eventlog.WithLogger(h.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	eng, err := engine.Open(ctx, ch, h.backend,
		engine.WithCursorStore(h.bucket),
		engine.WithEventLog(events),
		engine.WithLogger(h.logger),
		engine.WithObserver(h.result.AddTrace),
	)
	if err != nil {
		events.Close()
		return fmt.Errorf("failed to open engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(runCtx) }()

	h.ch, h.events, h.engine, h.cancel = ch, events, eng, cancel
	return eng.Flush(ctx)
}

// stop shuts the running engine down and waits for it.
func (h *Harness) stop() {
	if h.engine == nil {
		return
	}
	h.engine.Stop()
	<-h.engine.Done()
	h.cancel()
	h.events.Close()
	h.engine = nil
}

// executeStep runs one step and waits until the engine has processed it.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case len(step.Commands) > 0:
		for _, c := range step.Commands {
			h.commands = append(h.commands, c.Wire())
		}
		return h.deliver(ctx)
	case step.Redeliver:
		return h.deliver(ctx)
	case step.Mount:
		_, err := h.engine.Mount(ctx)
		return err
	case step.Unmount:
		return h.engine.Unmount(ctx)
	case step.Restart:
		h.stop()
		return h.start(ctx)
	case step.Emit != nil:
		return h.emit(ctx, *step.Emit)
	case step.Fail != nil:
		h.backend.Fail(step.Fail.Op, step.Fail.ID, nil)
		return nil
	default:
		return fmt.Errorf("empty step")
	}
}

// deliver writes the whole command list as a remote peer would.
func (h *Harness) deliver(ctx context.Context) error {
	raw, err := json.Marshal(h.commands)
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}
	if err := h.ch.Receive(ctx, wire.KeyCommands, raw); err != nil {
		return err
	}
	return h.engine.Flush(ctx)
}

func (h *Harness) emit(ctx context.Context, ev EmitStep) error {
	status, err := h.engine.Status(ctx)
	if err != nil {
		return err
	}
	view, ok := h.backend.View(status.ViewID)
	if !ok {
		return fmt.Errorf("emit %s: no live view", ev.Type)
	}
	if !view.Emit(ev.Type, ev.Data) {
		return fmt.Errorf("emit %s: view dropped the event", ev.Type)
	}
	return h.engine.Flush(ctx)
}

// capture records the final engine status, persisted state, live scene and
// event log on the result.
func (h *Harness) capture(ctx context.Context) error {
	status, err := h.engine.Status(ctx)
	if err != nil {
		return err
	}
	snap, err := h.engine.State(ctx)
	if err != nil {
		return err
	}
	scene, ok, err := h.engine.Scene(ctx)
	if err != nil {
		return err
	}

	h.result.Status = status
	h.result.State = snap
	if ok {
		h.result.Scene = &scene
	}
	h.result.Events = h.events.Events()
	return nil
}
