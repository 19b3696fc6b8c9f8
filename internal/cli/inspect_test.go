package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/store"
	"github.com/roach88/viewsync/internal/wire"
)

// seedDatabase writes a session with one source, two layers, a control,
// four commands and an event, with the applied cursor at applied.
func seedDatabase(t *testing.T, session string, applied int64, layers string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewsync.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	bucket := st.Namespace(session)
	require.NoError(t, bucket.Save(ctx, map[string]json.RawMessage{
		wire.KeySources:  json.RawMessage(`{"quakes":{"id":"quakes","spec":{"type":"geojson","data":{}}}}`),
		wire.KeyLayers:   json.RawMessage(layers),
		wire.KeyControls: json.RawMessage(`{"navigation":{"id":"navigation","kind":"navigation","position":"top-right"}}`),
		wire.KeyCommands: json.RawMessage(`[
			{"id":1,"method":"addSource","args":["quakes"],"kwargs":{"type":"geojson","data":{}}},
			{"id":2,"method":"addLayer","args":[],"kwargs":{"id":"quakes-layer","type":"circle","source":"quakes"}},
			{"id":3,"method":"addControl","args":["navigation"],"kwargs":{"position":"top-right"}},
			{"id":4,"method":"flyTo","args":[],"kwargs":{"center":[13.4,52.5],"zoom":9}}
		]`),
		wire.KeyEvents: json.RawMessage(`[{"type":"click","data":{"lng":1},"timestamp":1704067200000}]`),
	}))
	require.NoError(t, bucket.SaveCursor(ctx, engine.CursorApplied, applied))
	return path
}

const seededLayers = `[
	{"id":"basemap-1","kind":"raster","spec":{"id":"basemap-1","type":"raster"}},
	{"id":"quakes-layer","kind":"circle","spec":{"id":"quakes-layer","type":"circle","source":"quakes"}}
]`

func TestInspectCommand_JSON(t *testing.T) {
	path := seedDatabase(t, "demo", 3, seededLayers)

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "inspect", "--db", path, "--session", "demo"})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	r := resp.Data
	assert.Equal(t, "demo", r.Session)
	assert.Equal(t, []string{"demo"}, r.Namespaces)
	assert.Equal(t, int64(3), r.Cursors[engine.CursorApplied])
	assert.Equal(t, 4, r.Commands)
	assert.Equal(t, 1, r.Events)
	require.Len(t, r.Entries, 5)
	assert.Equal(t, wire.KeyCommands, r.Entries[0].Key, "entries are ordered by key")

	require.Len(t, r.State.Layers, 2)
	assert.Equal(t, "basemap-1", r.State.Layers[0].ID)
	assert.Len(t, r.State.Sources, 1)
	assert.Len(t, r.State.Controls, 1)
}

func TestInspectCommand_Text(t *testing.T) {
	path := seedDatabase(t, store.DefaultNamespace, 3, seededLayers)

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "--db", path})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Session: default")
	assert.Contains(t, out, "Commands: 4  Events: 1  Applied: 3")
	assert.Contains(t, out, "Layers (2, bottom to top):\n  basemap-1 [raster]\n  quakes-layer [circle]\n")
	assert.Contains(t, out, "navigation [navigation]")
}

func TestInspectCommand_CountsMalformedCommands(t *testing.T) {
	path := seedDatabase(t, "demo", 3, seededLayers)
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Namespace("demo").Save(context.Background(), map[string]json.RawMessage{
		wire.KeyCommands: json.RawMessage(`[{"id":1,"method":"addSource","args":["quakes"]},{"id":2,"method":"addControl","args":"navigation"}]`),
	}))
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "--db", path, "--session", "demo"})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Commands: 1  Events: 1  Applied: 3")
	assert.Contains(t, out, "Malformed commands: 1")
}

func TestInspectCommand_DoesNotWrite(t *testing.T) {
	path := seedDatabase(t, "demo", 3, seededLayers)

	before := readEntries(t, path, "demo")
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "--db", path, "--session", "demo"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, before, readEntries(t, path, "demo"))
}

func TestInspectCommand_MissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "--db", missing})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.NoFileExists(t, missing)
}

func readEntries(t *testing.T, path, session string) []store.Entry {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	entries, err := st.Namespace(session).Entries(context.Background())
	require.NoError(t, err)
	return entries
}
