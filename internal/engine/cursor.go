package engine

import (
	"context"
	"sync"
)

// CursorApplied names the persisted applied-command cursor.
const CursorApplied = "applied"

// CursorStore persists named cursors. *store.Bucket implements it.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, value int64) error
}

// MemoryCursors is a CursorStore that forgets everything on exit.
type MemoryCursors struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCursors returns an empty cursor store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{values: map[string]int64{}}
}

func (m *MemoryCursors) LoadCursor(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name], nil
}

func (m *MemoryCursors) SaveCursor(_ context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]int64{}
	}
	m.values[name] = value
	return nil
}
