package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewsync/internal/config"
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/testutil"
	"github.com/roach88/viewsync/internal/transport"
	"github.com/roach88/viewsync/internal/wire"
)

// startTestRuntime opens a runtime on a fresh database, runs it behind an
// httptest server and returns it with the server's base URL.
func startTestRuntime(t *testing.T, mount bool) (*runtime, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "viewsync.db")

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := openRuntime(ctx, cfg, testutil.DiscardLogger())
	require.NoError(t, err)

	runErr, err := rt.start(ctx, mount)
	require.NoError(t, err)

	srv := httptest.NewServer(rt.server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-runErr
		_ = rt.Close()
	})
	return rt, srv.URL
}

// wsURL turns an httptest base URL into the runtime's WebSocket URL.
func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func TestResolveServeConfig_FlagsOverride(t *testing.T) {
	t.Setenv("VIEWSYNC_ADDR", ":7070")
	t.Setenv("VIEWSYNC_SESSION", "from-env")

	path := filepath.Join(t.TempDir(), "viewsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
database = "file.db"
codec = "json"
log_level = "debug"
`), 0o644))

	opts := &ServeOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--codec", "msgpack", "--no-mount"}))

	cfg, err := resolveServeConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "file.db", cfg.Database, "file")
	assert.Equal(t, "debug", cfg.LogLevel, "file")
	assert.Equal(t, ":7070", cfg.Addr, "env")
	assert.Equal(t, "from-env", cfg.Session, "env")
	assert.Equal(t, "msgpack", cfg.Codec, "flag beats file")
	assert.False(t, cfg.MountOnStart)
}

func TestResolveServeConfig_Invalid(t *testing.T) {
	opts := &ServeOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--codec", "xml", "--db", ""}))

	_, err := resolveServeConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database must not be empty")
	assert.Contains(t, err.Error(), "xml")
}

func TestServeCommand_InvalidConfigExitCode(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "serve", "--codec", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, CodeConfig, resp.Error.Code)
}

func TestRuntime_MountsAndServes(t *testing.T) {
	rt, base := startTestRuntime(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := rt.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.NotEmpty(t, status.ViewID)

	codec, err := transport.CodecByName(transport.CodecJSON)
	require.NoError(t, err)
	client, err := transport.Dial(ctx, wsURL(base), "http://localhost/", codec)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.AppendCommand("addSource", []any{"quakes"}, map[string]any{"type": "geojson", "data": map[string]any{}})
	require.NoError(t, err)

	// The state write-through is published back to every peer.
	err = client.WaitFor(ctx, wire.KeySources, func(raw json.RawMessage, ok bool) bool {
		return ok && strings.Contains(string(raw), "quakes")
	})
	require.NoError(t, err)

	require.NoError(t, rt.engine.Flush(ctx))
	applied, err := rt.store.Namespace(config.Default().Session).LoadCursor(ctx, engine.CursorApplied)
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied)

	res, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRuntime_NoMount(t *testing.T) {
	rt, _ := startTestRuntime(t, false)
	ctx := context.Background()

	status, err := rt.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Ready)
	assert.Empty(t, status.ViewID)
	assert.Zero(t, rt.backend.Live())
}

func TestOpenRuntime_BadDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "missing-dir", "viewsync.db")

	_, err := openRuntime(context.Background(), cfg, testutil.DiscardLogger())
	require.Error(t, err)
}
