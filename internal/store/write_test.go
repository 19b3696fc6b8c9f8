package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketSave_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	b := s.Namespace("session")
	ctx := context.Background()

	err := b.Save(ctx, map[string]json.RawMessage{
		"_sources": json.RawMessage(`{"s1":{"id":"s1","spec":{"type":"geojson"}}}`),
		"_layers":  json.RawMessage(`[{"id":"l1","kind":"circle","spec":{}}]`),
	})
	require.NoError(t, err)

	values, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.JSONEq(t, `[{"id":"l1","kind":"circle","spec":{}}]`, string(values["_layers"]))
}

func TestBucketSave_BumpsRevision(t *testing.T) {
	s := createTestStore(t)
	b := s.Namespace("session")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Save(ctx, map[string]json.RawMessage{"_events": json.RawMessage(`[]`)}))
	}
	require.NoError(t, b.Save(ctx, map[string]json.RawMessage{"_layers": json.RawMessage(`[]`)}))

	entries, err := b.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "_events", entries[0].Key)
	assert.Equal(t, int64(3), entries[0].Revision)
	assert.Equal(t, "_layers", entries[1].Key)
	assert.Equal(t, int64(1), entries[1].Revision)
}

func TestBucketSave_InvalidJSONRollsBack(t *testing.T) {
	s := createTestStore(t)
	b := s.Namespace("session")
	ctx := context.Background()

	err := b.Save(ctx, map[string]json.RawMessage{
		"_a": json.RawMessage(`[]`),
		"_b": json.RawMessage(`{not json`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values, "partial writes must roll back")
}

func TestBucketSave_EmptyValueStoredAsNull(t *testing.T) {
	s := createTestStore(t)
	b := s.Namespace("session")
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, map[string]json.RawMessage{"_events": nil}))

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "null", string(values["_events"]))
}

func TestBucket_NamespacesAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Namespace("a").Save(ctx, map[string]json.RawMessage{"_layers": json.RawMessage(`[1]`)}))
	require.NoError(t, s.Namespace("b").Save(ctx, map[string]json.RawMessage{"_layers": json.RawMessage(`[2]`)}))

	a, err := s.Namespace("a").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[1]", string(a["_layers"]))

	b, err := s.Namespace("b").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[2]", string(b["_layers"]))
}

func TestBucketCursor(t *testing.T) {
	s := createTestStore(t)
	b := s.Namespace("session")
	ctx := context.Background()

	got, err := b.LoadCursor(ctx, "applied")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "missing cursor reads as zero")

	require.NoError(t, b.SaveCursor(ctx, "applied", 7))
	require.NoError(t, b.SaveCursor(ctx, "applied", 9))

	got, err = b.LoadCursor(ctx, "applied")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)

	cursors, err := b.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"applied": 9}, cursors)
}

func TestBucketClear(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := s.Namespace("session")
	other := s.Namespace("other")

	require.NoError(t, b.Save(ctx, map[string]json.RawMessage{"_layers": json.RawMessage(`[]`)}))
	require.NoError(t, b.SaveCursor(ctx, "applied", 3))
	require.NoError(t, other.SaveCursor(ctx, "applied", 5))

	require.NoError(t, b.Clear(ctx))

	values, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	cursor, err := b.LoadCursor(ctx, "applied")
	require.NoError(t, err)
	assert.Zero(t, cursor)

	kept, err := other.LoadCursor(ctx, "applied")
	require.NoError(t, err)
	assert.Equal(t, int64(5), kept)
}

func TestBucket_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/reopen.db"
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Namespace("x").Save(ctx, map[string]json.RawMessage{"_controls": json.RawMessage(`{}`)}))
	require.NoError(t, s1.Namespace("x").SaveCursor(ctx, "applied", 2))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	values, err := s2.Namespace("x").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(values["_controls"]))

	cursor, err := s2.Namespace("x").LoadCursor(ctx, "applied")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
}
