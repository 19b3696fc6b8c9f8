package channel

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Channel is the runtime's view of the shared key/value document.
type Channel interface {
	// Get returns the current value of key.
	Get(key string) (json.RawMessage, bool)
	// Set stages a local write. It is not visible to peers until Commit.
	Set(key string, value any) error
	// OnChange registers fn to run when a remote peer writes key.
	OnChange(key string, fn func(json.RawMessage)) (cancel func())
	// Commit persists and publishes every staged write.
	Commit(ctx context.Context) error
}

// Update is one key/value change as seen by sinks and peers.
type Update struct {
	Key   string          `json:"key" msgpack:"key"`
	Value json.RawMessage `json:"value" msgpack:"value"`
}

// Sink receives batches of committed or received updates.
type Sink func([]Update)

// Local is the in-process Channel implementation.
type Local struct {
	backend Backend

	// commitMu serializes Commit and Receive so backend writes and sink
	// publication happen in the same order.
	commitMu sync.Mutex

	mu       sync.Mutex
	values   map[string]json.RawMessage
	dirty    map[string]struct{}
	watchers map[string]map[int]func(json.RawMessage)
	sinks    map[int]Sink
	nextID   int
}

var _ Channel = (*Local)(nil)

// Open loads the backend's values into a new Local channel.
func Open(ctx context.Context, backend Backend) (*Local, error) {
	if backend == nil {
		backend = NewMemoryBackend(nil)
	}
	values, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	l := &Local{
		backend:  backend,
		values:   make(map[string]json.RawMessage, len(values)),
		dirty:    map[string]struct{}{},
		watchers: map[string]map[int]func(json.RawMessage){},
		sinks:    map[int]Sink{},
	}
	for k, v := range values {
		l.values[k] = slices.Clone(v)
	}
	return l, nil
}

// Get returns a copy of the current value of key.
func (l *Local) Get(key string) (json.RawMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set stages value under key. json.RawMessage values are stored verbatim.
func (l *Local) Set(key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[key] = raw
	l.dirty[key] = struct{}{}
	return nil
}

// OnChange registers fn for remote writes to key. The callback runs on the
// goroutine that called Receive and must not block or call Commit.
func (l *Local) OnChange(key string, fn func(json.RawMessage)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	if l.watchers[key] == nil {
		l.watchers[key] = map[int]func(json.RawMessage){}
	}
	l.watchers[key][id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.watchers[key], id)
	}
}

// Commit persists the staged writes and publishes them to every sink.
// On a backend error the writes stay staged for the next Commit.
func (l *Local) Commit(ctx context.Context) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	l.mu.Lock()
	if len(l.dirty) == 0 {
		l.mu.Unlock()
		return nil
	}
	pending := make(map[string]json.RawMessage, len(l.dirty))
	for key := range l.dirty {
		pending[key] = l.values[key]
	}
	l.mu.Unlock()

	if err := l.backend.Save(ctx, pending); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	l.mu.Lock()
	for key, raw := range pending {
		// A Set that raced this commit stays dirty.
		if string(l.values[key]) == string(raw) {
			delete(l.dirty, key)
		}
	}
	sinks := l.sinkList()
	l.mu.Unlock()

	publish(sinks, toUpdates(pending))
	return nil
}

// Receive applies a write from a remote peer: the value is persisted, the
// key's watchers fire and sinks are notified.
func (l *Local) Receive(ctx context.Context, key string, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return fmt.Errorf("receive %q: invalid JSON", key)
	}
	raw = slices.Clone(raw)

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if err := l.backend.Save(ctx, map[string]json.RawMessage{key: raw}); err != nil {
		return fmt.Errorf("receive %q: %w", key, err)
	}

	l.mu.Lock()
	l.values[key] = raw
	delete(l.dirty, key)
	fns := make([]func(json.RawMessage), 0, len(l.watchers[key]))
	ids := make([]int, 0, len(l.watchers[key]))
	for id := range l.watchers[key] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.watchers[key][id])
	}
	sinks := l.sinkList()
	l.mu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(raw))
	}
	publish(sinks, []Update{{Key: key, Value: raw}})
	return nil
}

// Publish attaches a sink that receives every committed or received batch.
func (l *Local) Publish(sink Sink) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.sinks[id] = sink

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.sinks, id)
	}
}

// Snapshot returns every committed value ordered by key.
// Staged but uncommitted writes are excluded.
func (l *Local) Snapshot() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()

	updates := make([]Update, 0, len(l.values))
	for key, raw := range l.values {
		if _, staged := l.dirty[key]; staged {
			continue
		}
		updates = append(updates, Update{Key: key, Value: slices.Clone(raw)})
	}
	slices.SortFunc(updates, func(a, b Update) int { return cmp.Compare(a.Key, b.Key) })
	return updates
}

// Keys returns every key with a value, sorted.
func (l *Local) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.values))
	for k := range l.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sinkList returns the sinks in registration order. Caller holds mu.
func (l *Local) sinkList() []Sink {
	ids := make([]int, 0, len(l.sinks))
	for id := range l.sinks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	sinks := make([]Sink, 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, l.sinks[id])
	}
	return sinks
}

func publish(sinks []Sink, updates []Update) {
	if len(updates) == 0 {
		return
	}
	for _, sink := range sinks {
		sink(slices.Clone(updates))
	}
}

func toUpdates(values map[string]json.RawMessage) []Update {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	updates := make([]Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, Update{Key: k, Value: values[k]})
	}
	return updates
}

func encode(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return slices.Clone(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}
