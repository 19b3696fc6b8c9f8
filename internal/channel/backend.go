package channel

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// Backend persists committed channel values.
// *store.Bucket is the durable implementation.
type Backend interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
	Save(ctx context.Context, values map[string]json.RawMessage) error
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	saves  int
}

// NewMemoryBackend returns a backend pre-populated with seed.
func NewMemoryBackend(seed map[string]json.RawMessage) *MemoryBackend {
	values := make(map[string]json.RawMessage, len(seed))
	maps.Copy(values, seed)
	return &MemoryBackend{values: values}
}

// Load returns a copy of the stored values.
func (m *MemoryBackend) Load(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values), nil
}

// Save merges values into the store.
func (m *MemoryBackend) Save(_ context.Context, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]json.RawMessage{}
	}
	maps.Copy(m.values, values)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
