package testutil

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewsync/internal/channel"
)

// OpenChannel returns an in-memory channel pre-populated with seed. Values
// are JSON-encoded; json.RawMessage values are stored verbatim.
func OpenChannel(t testing.TB, seed map[string]any) *channel.Local {
	t.Helper()

	raw := make(map[string]json.RawMessage, len(seed))
	for key, value := range seed {
		if r, ok := value.(json.RawMessage); ok {
			raw[key] = r
			continue
		}
		b, err := json.Marshal(value)
		require.NoError(t, err, "encode seed %q", key)
		raw[key] = b
	}

	ch, err := channel.Open(context.Background(), channel.NewMemoryBackend(raw))
	require.NoError(t, err)
	return ch
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
