// Package dispatch maps command method names to handlers.
//
// Each method registers a handler, an argument schema written in CUE and a
// replay policy. Commands are validated against their schema when ingested;
// Execute runs a handler to completion, converts panics into errors and
// classifies every failure so the caller can log and count it without
// stopping.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"github.com/agnivade/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/viewsync/internal/wire"
)

// TracerName is the instrumentation scope used for dispatch spans.
const TracerName = "github.com/roach88/viewsync/internal/dispatch"

// Handler applies one command. env carries whatever the handler needs
// (view handle, state store); handlers never capture it.
type Handler[E any] func(ctx context.Context, env E, cmd wire.Command) error

// ReplayPolicy reports whether an already-applied command must be replayed
// onto a freshly created view.
type ReplayPolicy[E any] func(env E, cmd wire.Command) bool

// Registration describes one method.
type Registration[E any] struct {
	Handler Handler[E]
	// Schema is a CUE expression over {args, kwargs}. Empty accepts anything.
	Schema string
	// Replay is nil for methods that are never replayed.
	Replay ReplayPolicy[E]
}

type entry[E any] struct {
	reg    Registration[E]
	schema cue.Value
	strict bool
}

// Table is a method registry. Registration is expected at startup; lookups
// are safe for concurrent use.
type Table[E any] struct {
	mu       sync.RWMutex
	entries  map[string]entry[E]
	schemas  *schemaCompiler
	schemaMu sync.Mutex
	logger   *slog.Logger
}

// Option configures a Table.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an empty table.
func New[E any](opts ...Option) *Table[E] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[E]{
		entries: map[string]entry[E]{},
		schemas: newSchemaCompiler(),
		logger:  o.logger,
	}
}

// Register adds a method. The schema is compiled now so a bad schema fails at
// startup instead of at ingestion.
func (t *Table[E]) Register(name string, reg Registration[E]) error {
	if name == "" {
		return errors.New("register: empty method name")
	}
	if reg.Handler == nil {
		return fmt.Errorf("register %s: nil handler", name)
	}

	e := entry[E]{reg: reg}
	if reg.Schema != "" {
		t.schemaMu.Lock()
		v, err := t.schemas.compile(name, reg.Schema)
		t.schemaMu.Unlock()
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		e.schema = v
		e.strict = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[name]; exists {
		return fmt.Errorf("register %s: method already registered", name)
	}
	t.entries[name] = e
	return nil
}

// MustRegister is like Register but panics on error.
// Use only at startup with static registrations.
func (t *Table[E]) MustRegister(name string, reg Registration[E]) {
	if err := t.Register(name, reg); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (t *Table[E]) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[name]
	return ok
}

// Methods returns every registered method name, sorted.
func (t *Table[E]) Methods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks that cmd names a registered method and satisfies its
// schema. The returned error is a *Error with CodeUnknownMethod or
// CodeInvalidArguments.
func (t *Table[E]) Validate(cmd wire.Command) error {
	e, ok := t.lookup(cmd.Method)
	if !ok {
		return t.unknown(cmd)
	}
	if !e.strict {
		return nil
	}

	t.schemaMu.Lock()
	err := t.schemas.check(e.schema, cmd)
	t.schemaMu.Unlock()
	if err != nil {
		return &Error{
			Code:      CodeInvalidArguments,
			Method:    cmd.Method,
			CommandID: cmd.ID,
			Message:   err.Error(),
			Err:       err,
		}
	}
	return nil
}

// Execute runs cmd's handler to completion. Handler errors and panics come
// back as *Error with CodeHandlerFailure; they are logged here and must not
// stop the caller.
func (t *Table[E]) Execute(ctx context.Context, env E, cmd wire.Command) (err error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "dispatch.Execute",
		trace.WithAttributes(
			attribute.String("method", cmd.Method),
			attribute.Int64("command_id", cmd.ID),
		),
	)
	defer span.End()

	e, ok := t.lookup(cmd.Method)
	if !ok {
		uerr := t.unknown(cmd)
		span.RecordError(uerr)
		span.SetStatus(codes.Error, string(CodeUnknownMethod))
		t.logger.Warn("dropping command with unknown method",
			"method", cmd.Method,
			"command_id", cmd.ID,
			"code", CodeUnknownMethod,
			"suggestion", uerr.Suggestion,
		)
		return uerr
	}

	defer func() {
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("command handler failed",
			"method", cmd.Method,
			"command_id", cmd.ID,
			"code", CodeHandlerFailure,
			"error", err,
		)
	}()

	if herr := t.run(ctx, e.reg.Handler, env, cmd); herr != nil {
		return &Error{
			Code:      CodeHandlerFailure,
			Method:    cmd.Method,
			CommandID: cmd.ID,
			Message:   herr.Error(),
			Err:       herr,
		}
	}
	return nil
}

// run calls h and converts a panic into a *PanicError.
func (t *Table[E]) run(ctx context.Context, h Handler[E], env E, cmd wire.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("command handler panicked",
				"method", cmd.Method,
				"command_id", cmd.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &PanicError{Value: r}
		}
	}()
	return h(ctx, env, cmd)
}

// Replayable reports whether an applied cmd must be replayed onto a new
// view. Unknown methods and methods without a policy are never replayed.
func (t *Table[E]) Replayable(env E, cmd wire.Command) bool {
	e, ok := t.lookup(cmd.Method)
	if !ok || e.reg.Replay == nil {
		return false
	}
	return e.reg.Replay(env, cmd)
}

// Suggest returns the registered method closest to name, or "" when nothing
// is close enough to be a plausible typo.
func (t *Table[E]) Suggest(name string) string {
	if name == "" {
		return ""
	}
	best, bestDist := "", -1
	for _, candidate := range t.Methods() {
		d := levenshtein.ComputeDistance(name, candidate)
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	limit := max(2, len(name)/3)
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}

func (t *Table[E]) lookup(name string) (entry[E], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

func (t *Table[E]) unknown(cmd wire.Command) *Error {
	return &Error{
		Code:       CodeUnknownMethod,
		Method:     cmd.Method,
		CommandID:  cmd.ID,
		Message:    "no handler registered",
		Suggestion: t.Suggest(cmd.Method),
	}
}
