package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Bucket is the slice of the store belonging to one namespace.
// It satisfies the channel backend and the engine cursor store.
type Bucket struct {
	store     *Store
	namespace string
}

// Entry is one persisted channel value with its revision.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Revision int64           `json:"revision"`
}

// Namespace returns the bucket's namespace.
func (b *Bucket) Namespace() string {
	return b.namespace
}

// Load returns every value in the namespace keyed by channel key.
// Returns an empty map (not nil) when nothing has been saved.
func (b *Bucket) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	entries, err := b.Entries(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

// Entries returns every value with its revision, ordered by key.
func (b *Bucket) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT key, value, revision
		FROM channel_values
		WHERE namespace = ?
		ORDER BY key COLLATE BINARY ASC
	`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			value string
		)
		if err := rows.Scan(&e.Key, &value, &e.Revision); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		e.Value = json.RawMessage(value)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return entries, nil
}

// LoadCursor returns a named cursor, or 0 when it was never saved.
func (b *Bucket) LoadCursor(ctx context.Context, name string) (int64, error) {
	var value int64
	err := b.store.db.QueryRowContext(ctx, `
		SELECT value FROM cursors WHERE namespace = ? AND name = ?
	`, b.namespace, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %q: %w", name, err)
	}
	return value, nil
}

// Cursors returns every cursor in the namespace.
func (b *Bucket) Cursors(ctx context.Context) (map[string]int64, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT name, value FROM cursors
		WHERE namespace = ?
		ORDER BY name COLLATE BINARY ASC
	`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	cursors := map[string]int64{}
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}
