package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenChannel_Seeds(t *testing.T) {
	ch := OpenChannel(t, map[string]any{
		"_layers": []map[string]any{{"id": "markers", "kind": "circle"}},
		"_raw":    json.RawMessage(`{"a":1}`),
	})

	layers, ok := ch.Get("_layers")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"markers","kind":"circle"}]`, string(layers))

	raw, ok := ch.Get("_raw")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(raw))
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() { DiscardLogger().Info("dropped") })
}
