package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/render/headless"
	"github.com/roach88/viewsync/internal/testutil"
	"github.com/roach88/viewsync/internal/transport"
	"github.com/roach88/viewsync/internal/wire"
)

func newTestServer(t *testing.T, seed map[string]any) (*Server, *engine.Engine) {
	t.Helper()
	logger := testutil.DiscardLogger()
	ch := testutil.OpenChannel(t, seed)
	backend := headless.New(render.DefaultProfile(), headless.WithIDGenerator(headless.SequentialIDs()))

	eng, err := engine.Open(context.Background(), ch, backend, engine.WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(func() {
		eng.Stop()
		<-eng.Done()
		cancel()
	})

	return New(eng, transport.NewHandler(ch, websocket.JSON, logger), logger), eng
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body=%s", rr.Body.String())
	return rr, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodGet, "/health")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "viewsync_http_requests_total")
}

func TestMountUnmountLifecycle(t *testing.T) {
	s, _ := newTestServer(t, map[string]any{
		wire.KeySources: map[string]any{"s1": map[string]any{"id": "s1", "spec": map[string]any{"type": "geojson"}}},
	})

	rr, body := do(t, s, http.MethodPost, "/view/mount")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "view-1", body["view_id"])
	restore := body["restore"].(map[string]any)
	assert.Equal(t, 1.0, restore["sources"])

	rr, body = do(t, s, http.MethodPost, "/view/mount")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, body["error"], "already mounted")

	rr, body = do(t, s, http.MethodGet, "/view")
	require.Equal(t, http.StatusOK, rr.Code)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["ready"])
	scene := body["scene"].(map[string]any)
	assert.Len(t, scene["sources"], 1)

	rr, _ = do(t, s, http.MethodPost, "/view/unmount")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/view/unmount")
	assert.Equal(t, http.StatusConflict, rr.Code)

	_, body = do(t, s, http.MethodGet, "/view")
	assert.NotContains(t, body, "scene")
}

func TestState(t *testing.T) {
	s, _ := newTestServer(t, map[string]any{
		wire.KeyLayers: []map[string]any{{"id": "markers", "kind": "circle", "spec": map[string]any{}}},
	})
	rr, body := do(t, s, http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, rr.Code)
	layers := body["layers"].([]any)
	require.Len(t, layers, 1)
	assert.Equal(t, "markers", layers[0].(map[string]any)["id"])
}

func TestStoppedEngine(t *testing.T) {
	s, eng := newTestServer(t, nil)
	eng.Stop()
	<-eng.Done()

	rr, _ := do(t, s, http.MethodGet, "/state")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWebSocketCommandsReachEngine(t *testing.T) {
	s, eng := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	_, err := eng.Mount(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := transport.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", srv.URL, websocket.JSON)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.AppendCommand("addSource", []any{"s1"}, map[string]any{"type": "geojson"})
	require.NoError(t, err)

	// The runtime writes _sources after applying the command.
	require.NoError(t, client.WaitFor(ctx, wire.KeySources, func(raw json.RawMessage, ok bool) bool {
		return ok && strings.Contains(string(raw), `"s1"`)
	}))

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.AppliedID)
}
