package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Command is one control-plane instruction.
//
// Wire format: {"id": 1, "method": "addSource", "args": ["s1"], "kwargs": {"type": "geojson"}}
type Command struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Normalize replaces nil Args/Kwargs with empty values so commands round-trip
// as [] and {} instead of null.
func (c Command) Normalize() Command {
	if c.Args == nil {
		c.Args = []any{}
	}
	if c.Kwargs == nil {
		c.Kwargs = map[string]any{}
	}
	return c
}

// MalformedCommand is a KeyCommands entry that does not decode as a
// Command. ID and Method are read on a best-effort basis; ID is 0 when the
// id itself is unreadable.
type MalformedCommand struct {
	Index  int
	ID     int64
	Method string
	Err    error
}

// DecodeCommandList parses the value stored under KeyCommands entry by
// entry, so one bad entry never hides the others. The error is non-nil only
// when raw is not a JSON array.
func DecodeCommandList(raw json.RawMessage) ([]Command, []MalformedCommand, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Command{}, nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, nil, fmt.Errorf("decode commands: %w", err)
	}

	cmds := make([]Command, 0, len(entries))
	var malformed []MalformedCommand
	for i, entry := range entries {
		var cmd Command
		if err := json.Unmarshal(entry, &cmd); err != nil {
			malformed = append(malformed, readMalformed(i, entry, err))
			continue
		}
		cmds = append(cmds, cmd.Normalize())
	}
	return cmds, malformed, nil
}

func readMalformed(index int, entry json.RawMessage, err error) MalformedCommand {
	m := MalformedCommand{Index: index, Err: fmt.Errorf("decode command %d: %w", index, err)}
	var fields map[string]json.RawMessage
	if json.Unmarshal(entry, &fields) != nil {
		return m
	}
	var id int64
	if json.Unmarshal(fields["id"], &id) == nil {
		m.ID = id
	}
	var method string
	if json.Unmarshal(fields["method"], &method) == nil {
		m.Method = method
	}
	return m
}

// DecodeCommands parses the value stored under KeyCommands, failing on the
// first malformed entry. A missing or null value decodes to an empty list.
func DecodeCommands(raw json.RawMessage) ([]Command, error) {
	cmds, malformed, err := DecodeCommandList(raw)
	if err != nil {
		return nil, err
	}
	if len(malformed) > 0 {
		return nil, fmt.Errorf("decode commands: %w", malformed[0].Err)
	}
	return cmds, nil
}

// Arg returns the positional argument at i.
func (c Command) Arg(i int) (any, bool) {
	if i < 0 || i >= len(c.Args) {
		return nil, false
	}
	return c.Args[i], true
}

// StringArg returns positional argument i as a string.
func (c Command) StringArg(i int) (string, error) {
	v, ok := c.Arg(i)
	if !ok {
		return "", fmt.Errorf("%s: missing argument %d", c.Method, i)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d: expected string, got %T", c.Method, i, v)
	}
	return s, nil
}

// BoolArg returns positional argument i as a bool.
func (c Command) BoolArg(i int) (bool, error) {
	v, ok := c.Arg(i)
	if !ok {
		return false, fmt.Errorf("%s: missing argument %d", c.Method, i)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: argument %d: expected bool, got %T", c.Method, i, v)
	}
	return b, nil
}

// FloatArg returns positional argument i as a float64.
func (c Command) FloatArg(i int) (float64, error) {
	v, ok := c.Arg(i)
	if !ok {
		return 0, fmt.Errorf("%s: missing argument %d", c.Method, i)
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: argument %d: expected number, got %T", c.Method, i, v)
	}
	return f, nil
}

// Kwarg returns the keyword argument named key.
func (c Command) Kwarg(key string) (any, bool) {
	v, ok := c.Kwargs[key]
	return v, ok
}

// StringKwarg returns keyword argument key as a string, or "" when absent.
func (c Command) StringKwarg(key string) (string, error) {
	v, ok := c.Kwargs[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: kwarg %q: expected string, got %T", c.Method, key, v)
	}
	return s, nil
}

// ToFloat converts the numeric types produced by JSON and YAML decoders.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
