package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/viewsync/internal/wire"
)

type testEnv struct {
	calls []string
}

func newTestTable(t *testing.T) *Table[*testEnv] {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := New[*testEnv](WithLogger(logger))

	require.NoError(t, table.Register("addSource", Registration[*testEnv]{
		Handler: func(_ context.Context, env *testEnv, cmd wire.Command) error {
			id, err := cmd.StringArg(0)
			if err != nil {
				return err
			}
			env.calls = append(env.calls, "addSource:"+id)
			return nil
		},
		Schema: `
			args: [string]
			kwargs: {type: string, ...}
		`,
	}))
	require.NoError(t, table.Register("setOpacity", Registration[*testEnv]{
		Handler: func(_ context.Context, env *testEnv, cmd wire.Command) error {
			env.calls = append(env.calls, "setOpacity")
			return nil
		},
		Schema: `
			args: [string, number & >=0 & <=1]
		`,
		Replay: func(*testEnv, wire.Command) bool { return true },
	}))
	require.NoError(t, table.Register("explode", Registration[*testEnv]{
		Handler: func(context.Context, *testEnv, wire.Command) error {
			panic("boom")
		},
	}))
	require.NoError(t, table.Register("fail", Registration[*testEnv]{
		Handler: func(context.Context, *testEnv, wire.Command) error {
			return errors.New("layer not found")
		},
	}))
	return table
}

func TestRegister_Errors(t *testing.T) {
	table := New[*testEnv]()
	noop := func(context.Context, *testEnv, wire.Command) error { return nil }

	assert.ErrorContains(t, table.Register("", Registration[*testEnv]{Handler: noop}), "empty method name")
	assert.ErrorContains(t, table.Register("x", Registration[*testEnv]{}), "nil handler")

	require.NoError(t, table.Register("x", Registration[*testEnv]{Handler: noop}))
	assert.ErrorContains(t, table.Register("x", Registration[*testEnv]{Handler: noop}), "already registered")

	err := table.Register("bad", Registration[*testEnv]{Handler: noop, Schema: `args: [string`})
	require.Error(t, err)
	var se *SchemaError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "schema", se.Field)

	assert.Panics(t, func() { table.MustRegister("x", Registration[*testEnv]{Handler: noop}) })
}

func TestMethods(t *testing.T) {
	table := newTestTable(t)
	assert.Equal(t, []string{"addSource", "explode", "fail", "setOpacity"}, table.Methods())
	assert.True(t, table.Has("fail"))
	assert.False(t, table.Has("nope"))
}

func TestValidate(t *testing.T) {
	table := newTestTable(t)

	tests := []struct {
		name string
		cmd  wire.Command
		code Code
	}{
		{
			name: "valid",
			cmd:  wire.Command{ID: 1, Method: "addSource", Args: []any{"s1"}, Kwargs: map[string]any{"type": "geojson", "data": map[string]any{}}},
		},
		{
			name: "no schema accepts anything",
			cmd:  wire.Command{ID: 2, Method: "fail", Args: []any{1.0, "x"}},
		},
		{
			name: "unknown method",
			cmd:  wire.Command{ID: 3, Method: "addSauce"},
			code: CodeUnknownMethod,
		},
		{
			name: "wrong arg type",
			cmd:  wire.Command{ID: 4, Method: "addSource", Args: []any{1.0}, Kwargs: map[string]any{"type": "geojson"}},
			code: CodeInvalidArguments,
		},
		{
			name: "missing required kwarg",
			cmd:  wire.Command{ID: 5, Method: "addSource", Args: []any{"s1"}},
			code: CodeInvalidArguments,
		},
		{
			name: "too many args",
			cmd:  wire.Command{ID: 6, Method: "addSource", Args: []any{"s1", "s2"}, Kwargs: map[string]any{"type": "geojson"}},
			code: CodeInvalidArguments,
		},
		{
			name: "number accepts whole floats",
			cmd:  wire.Command{ID: 7, Method: "setOpacity", Args: []any{"l1", 1.0}},
		},
		{
			name: "number bound",
			cmd:  wire.Command{ID: 8, Method: "setOpacity", Args: []any{"l1", 1.5}},
			code: CodeInvalidArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := table.Validate(tt.cmd)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))

			var de *Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.cmd.ID, de.CommandID)
			assert.Equal(t, tt.cmd.Method, de.Method)
		})
	}
}

func TestValidate_UnknownSuggestsNearest(t *testing.T) {
	table := newTestTable(t)

	err := table.Validate(wire.Command{ID: 1, Method: "addSourc"})
	require.Error(t, err)
	assert.True(t, IsUnknownMethod(err))

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "addSource", de.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "addSource"?`)

	err = table.Validate(wire.Command{ID: 2, Method: "completelyDifferent"})
	require.True(t, errors.As(err, &de))
	assert.Empty(t, de.Suggestion)
}

func TestExecute_Success(t *testing.T) {
	table := newTestTable(t)
	env := &testEnv{}

	err := table.Execute(context.Background(), env, wire.Command{ID: 1, Method: "addSource", Args: []any{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"addSource:s1"}, env.calls)
}

func TestExecute_HandlerFailure(t *testing.T) {
	var buf bytes.Buffer
	table := New[*testEnv](WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	table.MustRegister("fail", Registration[*testEnv]{
		Handler: func(context.Context, *testEnv, wire.Command) error { return errors.New("layer not found") },
	})

	err := table.Execute(context.Background(), &testEnv{}, wire.Command{ID: 7, Method: "fail"})
	require.Error(t, err)
	assert.True(t, IsHandlerFailure(err))
	assert.Contains(t, err.Error(), "layer not found")
	assert.Contains(t, err.Error(), "id=7")

	logged := buf.String()
	assert.Contains(t, logged, "method=fail")
	assert.Contains(t, logged, "command_id=7")
	assert.Contains(t, logged, "code=HANDLER_FAILURE")
}

func TestExecute_RecoversPanic(t *testing.T) {
	table := newTestTable(t)

	err := table.Execute(context.Background(), &testEnv{}, wire.Command{ID: 2, Method: "explode"})
	require.Error(t, err)
	assert.True(t, IsHandlerFailure(err))

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)
}

func TestExecute_UnknownMethod(t *testing.T) {
	table := newTestTable(t)
	err := table.Execute(context.Background(), &testEnv{}, wire.Command{ID: 3, Method: "nope"})
	assert.True(t, IsUnknownMethod(err))
	assert.False(t, IsHandlerFailure(err))
}

func TestReplayable(t *testing.T) {
	table := newTestTable(t)
	env := &testEnv{}

	assert.True(t, table.Replayable(env, wire.Command{Method: "setOpacity"}))
	assert.False(t, table.Replayable(env, wire.Command{Method: "addSource"}), "nil policy")
	assert.False(t, table.Replayable(env, wire.Command{Method: "unknown"}))
}

func TestExecute_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	table := newTestTable(t)
	ctx := context.Background()
	_ = table.Execute(ctx, &testEnv{}, wire.Command{ID: 1, Method: "addSource", Args: []any{"s1"}})
	_ = table.Execute(ctx, &testEnv{}, wire.Command{ID: 2, Method: "fail"})

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "dispatch.Execute", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.NotEmpty(t, spans[1].Events(), "error recorded as span event")
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestErrorHelpers_Wrapped(t *testing.T) {
	base := &Error{Code: CodeInvalidArguments, Method: "m", CommandID: 1, Message: "bad"}
	wrapped := errors.Join(errors.New("context"), base)

	assert.True(t, IsInvalidArguments(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
