package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/wire"
)

// ErrClosed is returned by Client methods after the connection ended.
var ErrClosed = errors.New("transport: connection closed")

// Client is the control-plane end of a connection. It mirrors every key
// the runtime publishes and writes keys with set frames.
type Client struct {
	conn  *websocket.Conn
	codec websocket.Codec

	writeMu sync.Mutex

	mu      sync.Mutex
	values  map[string]json.RawMessage
	changed chan struct{}
	errs    []string
	err     error
	done    chan struct{}
}

// Dial connects to a runtime at url (ws:// or wss://) and waits for the
// initial snapshot.
func Dial(ctx context.Context, url, origin string, codec websocket.Codec) (*Client, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	var first Frame
	if err := codec.Receive(conn, &first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial %s: read snapshot: %w", url, err)
	}
	if first.Type != FrameSnapshot {
		conn.Close()
		return nil, fmt.Errorf("dial %s: expected snapshot frame, got %q", url, first.Type)
	}

	c := &Client{
		conn:    conn,
		codec:   codec,
		values:  map[string]json.RawMessage{},
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.apply(first.Updates)
	go c.read()
	return c, nil
}

// read applies incoming frames until the connection ends.
func (c *Client) read() {
	defer close(c.done)
	for {
		var f Frame
		if err := c.codec.Receive(c.conn, &f); err != nil {
			c.mu.Lock()
			c.err = err
			c.notify()
			c.mu.Unlock()
			return
		}
		switch f.Type {
		case FrameSnapshot, FrameUpdates:
			c.apply(f.Updates)
		case FrameError:
			c.mu.Lock()
			c.errs = append(c.errs, f.Error)
			c.notify()
			c.mu.Unlock()
		}
	}
}

func (c *Client) apply(updates []channel.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		c.values[u.Key] = slices.Clone(u.Value)
	}
	c.notify()
}

// notify wakes every waiter. Caller holds mu.
func (c *Client) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Get returns the mirrored value of key.
func (c *Client) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return slices.Clone(v), ok
}

// Snapshot returns a copy of every mirrored key.
func (c *Client) Snapshot() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.values))
	for k, v := range c.values {
		out[k] = slices.Clone(v)
	}
	return out
}

// Errors returns the error frames received so far.
func (c *Client) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errs)
}

// Set writes key on the runtime. The mirror is updated when the runtime
// publishes the write back.
func (c *Client) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	c.mu.Lock()
	closed := c.err != nil
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.codec.Send(c.conn, Frame{Type: FrameSet, Key: key, Value: raw}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// AppendCommand appends a command with the next id to the mirrored list
// and writes the whole list back. Entries already on the list are written
// back unchanged, malformed ones included. It returns the new command.
func (c *Client) AppendCommand(method string, args []any, kwargs map[string]any) (wire.Command, error) {
	raw, _ := c.Get(wire.KeyCommands)
	cmds, malformed, err := wire.DecodeCommandList(raw)
	if err != nil {
		return wire.Command{}, fmt.Errorf("append command: %w", err)
	}

	var entries []json.RawMessage
	if len(cmds)+len(malformed) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return wire.Command{}, fmt.Errorf("append command: %w", err)
		}
	}

	var next int64 = 1
	for _, cmd := range cmds {
		next = max(next, cmd.ID+1)
	}
	for _, m := range malformed {
		next = max(next, m.ID+1)
	}
	cmd := wire.Command{ID: next, Method: method, Args: args, Kwargs: maps.Clone(kwargs)}.Normalize()
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return wire.Command{}, fmt.Errorf("append command: %w", err)
	}
	if err := c.Set(wire.KeyCommands, append(entries, encoded)); err != nil {
		return wire.Command{}, err
	}
	return cmd, nil
}

// WaitFor blocks until cond holds for the mirrored value of key, ctx ends
// or the connection closes.
func (c *Client) WaitFor(ctx context.Context, key string, cond func(json.RawMessage, bool) bool) error {
	for {
		c.mu.Lock()
		raw, ok := c.values[key]
		if cond(raw, ok) {
			c.mu.Unlock()
			return nil
		}
		if c.err != nil {
			c.mu.Unlock()
			return ErrClosed
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends the connection and waits for the reader to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
