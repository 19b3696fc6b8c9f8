package transport

import (
	"encoding/json"

	"github.com/roach88/viewsync/internal/channel"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameUpdates  = "updates"
	FrameSet      = "set"
	FrameError    = "error"
)

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type string `json:"type" msgpack:"type"`

	// Key and Value are set on set frames.
	Key   string          `json:"key,omitempty" msgpack:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty" msgpack:"value,omitempty"`

	// Updates is set on snapshot and updates frames.
	Updates []channel.Update `json:"updates,omitempty" msgpack:"updates,omitempty"`

	// Error is set on error frames.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}
