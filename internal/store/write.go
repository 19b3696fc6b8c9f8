package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Save upserts every value in one transaction.
// An existing key keeps its row and has its revision bumped.
func (b *Bucket) Save(ctx context.Context, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save values: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_values (namespace, key, value, revision)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			revision = channel_values.revision + 1
	`)
	if err != nil {
		return fmt.Errorf("save values: prepare: %w", err)
	}
	defer stmt.Close()

	// Sorted so revision bumps happen in a stable order.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := values[key]
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		if !json.Valid(raw) {
			return fmt.Errorf("save values: key %q: invalid JSON", key)
		}
		if _, err := stmt.ExecContext(ctx, b.namespace, key, string(raw)); err != nil {
			return fmt.Errorf("save values: key %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save values: commit: %w", err)
	}
	return nil
}

// SaveCursor stores a named cursor value.
func (b *Bucket) SaveCursor(ctx context.Context, name string, value int64) error {
	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO cursors (namespace, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET value = excluded.value
	`, b.namespace, name, value)
	if err != nil {
		return fmt.Errorf("save cursor %q: %w", name, err)
	}
	return nil
}

// Clear deletes every value and cursor in the namespace.
func (b *Bucket) Clear(ctx context.Context) error {
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear namespace: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_values WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("clear namespace: values: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cursors WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("clear namespace: cursors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear namespace: commit: %w", err)
	}
	return nil
}
