package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/observability"
)

// peerBuffer bounds the batches queued for one slow peer.
const peerBuffer = 64

// maxDecodeErrors closes a connection that keeps sending garbage.
const maxDecodeErrors = 3

// Handler serves peers of one channel.
type Handler struct {
	ch     *channel.Local
	codec  websocket.Codec
	logger *slog.Logger
}

// NewHandler returns a WebSocket handler for ch.
func NewHandler(ch *channel.Local, codec websocket.Codec, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ch: ch, codec: codec, logger: logger}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Server{Handler: h.serve}.ServeHTTP(w, r)
}

func (h *Handler) serve(conn *websocket.Conn) {
	defer conn.Close()
	observability.PeerConnected()
	defer observability.PeerDisconnected()

	remote := conn.Request().RemoteAddr
	h.logger.Info("peer connected", "remote", remote)

	p := newPeer(conn, h.codec)
	// Subscribe before the snapshot so no batch falls between them. Queued
	// batches are sent only after the snapshot.
	cancel := h.ch.Publish(p.enqueue)
	defer cancel()

	if err := p.write(Frame{Type: FrameSnapshot, Updates: h.ch.Snapshot()}); err != nil {
		h.logger.Warn("send snapshot failed", "remote", remote, "error", err)
		return
	}

	go p.pump(h.logger)
	defer p.close()

	ctx := conn.Request().Context()
	decodeErrors := 0
	for {
		var f Frame
		if err := h.codec.Receive(conn, &f); err != nil {
			if errors.Is(err, io.EOF) {
				h.logger.Info("peer disconnected", "remote", remote)
				return
			}
			decodeErrors++
			h.logger.Warn("invalid frame", "remote", remote, "error", err)
			_ = p.write(Frame{Type: FrameError, Error: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0

		switch f.Type {
		case FrameSet:
			if f.Key == "" {
				_ = p.write(Frame{Type: FrameError, Error: "set: key is required"})
				continue
			}
			if err := h.ch.Receive(ctx, f.Key, f.Value); err != nil {
				h.logger.Warn("remote write failed", "remote", remote, "key", f.Key, "error", err)
				_ = p.write(Frame{Type: FrameError, Key: f.Key, Error: err.Error()})
			}
		default:
			_ = p.write(Frame{Type: FrameError, Error: "unsupported frame type " + f.Type})
		}
	}
}

// peer serializes writes to one connection. Channel batches go through a
// bounded queue so a slow peer never blocks a commit.
type peer struct {
	conn  *websocket.Conn
	codec websocket.Codec

	writeMu sync.Mutex

	mu     sync.Mutex
	queue  chan []channel.Update
	closed bool
}

func newPeer(conn *websocket.Conn, codec websocket.Codec) *peer {
	return &peer{conn: conn, codec: codec, queue: make(chan []channel.Update, peerBuffer)}
}

func (p *peer) write(f Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.codec.Send(p.conn, f)
}

// enqueue is the channel sink. A full queue drops the peer.
func (p *peer) enqueue(updates []channel.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- updates:
	default:
		p.closed = true
		close(p.queue)
		_ = p.conn.Close()
	}
}

func (p *peer) pump(logger *slog.Logger) {
	for updates := range p.queue {
		if err := p.write(Frame{Type: FrameUpdates, Updates: updates}); err != nil {
			logger.Warn("send updates failed", "error", err)
			_ = p.conn.Close()
			return
		}
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}
