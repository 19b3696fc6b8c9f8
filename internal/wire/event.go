package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one runtime -> control-plane notification.
//
// Wire format: {"type": "click", "data": {...}, "timestamp": 1712345678901}
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// DecodeEvents parses the value stored under KeyEvents.
// A missing or null value decodes to an empty log.
func DecodeEvents(raw json.RawMessage) ([]Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Event{}, nil
	}

	var events []Event
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
