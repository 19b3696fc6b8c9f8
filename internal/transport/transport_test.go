package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/testutil"
	"github.com/roach88/viewsync/internal/wire"
)

func startServer(t *testing.T, ch *channel.Local, codec websocket.Codec) string {
	t.Helper()
	srv := httptest.NewServer(NewHandler(ch, codec, testutil.DiscardLogger()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, codec websocket.Codec) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, "http://localhost/", codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", CodecJSON, CodecMsgpack} {
		_, err := CodecByName(name)
		assert.NoError(t, err, name)
	}
	_, err := CodecByName("xml")
	assert.ErrorContains(t, err, `unknown codec "xml"`)
}

func TestMsgpack_RoundTripsFrames(t *testing.T) {
	in := Frame{
		Type:    FrameUpdates,
		Updates: []channel.Update{{Key: "_layers", Value: json.RawMessage(`[{"id":"a"}]`)}},
	}
	data, payloadType, err := msgpackMarshal(in)
	require.NoError(t, err)
	assert.Equal(t, byte(websocket.BinaryFrame), payloadType)

	var out Frame
	require.NoError(t, msgpackUnmarshal(data, payloadType, &out))
	assert.Equal(t, in.Type, out.Type)
	require.Len(t, out.Updates, 1)
	assert.JSONEq(t, `[{"id":"a"}]`, string(out.Updates[0].Value))
}

func TestClient_ReceivesSnapshot(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			ch := testutil.OpenChannel(t, map[string]any{
				wire.KeySources: map[string]any{"s1": map[string]any{"id": "s1"}},
			})
			c := dial(t, startServer(t, ch, codec), codec)

			raw, ok := c.Get(wire.KeySources)
			require.True(t, ok)
			assert.JSONEq(t, `{"s1":{"id":"s1"}}`, string(raw))
		})
	}
}

func TestClient_SetReachesChannelWatchers(t *testing.T) {
	ch := testutil.OpenChannel(t, nil)
	got := make(chan json.RawMessage, 1)
	cancel := ch.OnChange(wire.KeyCommands, func(raw json.RawMessage) { got <- raw })
	defer cancel()

	c := dial(t, startServer(t, ch, websocket.JSON), websocket.JSON)

	cmd, err := c.AppendCommand("addSource", []any{"s1"}, map[string]any{"type": "geojson"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cmd.ID)

	select {
	case raw := <-got:
		cmds, err := wire.DecodeCommands(raw)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, "addSource", cmds[0].Method)
	case <-time.After(5 * time.Second):
		t.Fatal("remote write never reached the channel")
	}

	// The write is echoed back and mirrored.
	require.NoError(t, c.WaitFor(waitCtx(t), wire.KeyCommands, func(_ json.RawMessage, ok bool) bool { return ok }))

	cmd, err = c.AppendCommand("removeSource", []any{"s1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cmd.ID)
	assert.NotNil(t, cmd.Kwargs)
}

func TestClient_AppendKeepsMalformedEntries(t *testing.T) {
	ch := testutil.OpenChannel(t, map[string]any{
		wire.KeyCommands: json.RawMessage(`[{"id":1,"method":"addSource","args":["s1"]},{"id":2,"method":"addControl","args":"navigation"}]`),
	})
	got := make(chan json.RawMessage, 1)
	cancel := ch.OnChange(wire.KeyCommands, func(raw json.RawMessage) { got <- raw })
	defer cancel()

	c := dial(t, startServer(t, ch, websocket.JSON), websocket.JSON)

	cmd, err := c.AppendCommand("addSource", []any{"s2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cmd.ID, "ids of malformed entries stay taken")

	select {
	case raw := <-got:
		cmds, malformed, err := wire.DecodeCommandList(raw)
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, int64(3), cmds[1].ID)
		require.Len(t, malformed, 1)
		assert.Equal(t, int64(2), malformed[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("remote write never reached the channel")
	}
}

func TestClient_SeesRuntimeCommits(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			ch := testutil.OpenChannel(t, nil)
			c := dial(t, startServer(t, ch, codec), codec)

			require.NoError(t, ch.Set(wire.KeyEvents, []wire.Event{{Type: "click", Timestamp: 7}}))
			require.NoError(t, ch.Commit(context.Background()))

			require.NoError(t, c.WaitFor(waitCtx(t), wire.KeyEvents, func(_ json.RawMessage, ok bool) bool { return ok }))
			raw, _ := c.Get(wire.KeyEvents)
			assert.JSONEq(t, `[{"type":"click","data":null,"timestamp":7}]`, string(raw))
		})
	}
}

func TestHandler_ErrorFrames(t *testing.T) {
	ch := testutil.OpenChannel(t, nil)
	c := dial(t, startServer(t, ch, websocket.JSON), websocket.JSON)

	require.NoError(t, c.Set("", 1))
	require.NoError(t, c.Set(wire.KeyLayers, nil))

	c.writeMu.Lock()
	require.NoError(t, websocket.JSON.Send(c.conn, Frame{Type: "bogus"}))
	c.writeMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for len(c.Errors()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	errs := c.Errors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "key is required")
	assert.Contains(t, errs[1], "unsupported frame type bogus")
}

func TestClient_WaitForStopsOnClose(t *testing.T) {
	ch := testutil.OpenChannel(t, nil)
	c := dial(t, startServer(t, ch, websocket.JSON), websocket.JSON)

	require.NoError(t, c.conn.Close())

	err := c.WaitFor(waitCtx(t), "never", func(_ json.RawMessage, ok bool) bool { return ok })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set("k", 1), ErrClosed)
}

func TestDial_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "://bad", "http://localhost/", websocket.JSON)
	assert.Error(t, err)
}
