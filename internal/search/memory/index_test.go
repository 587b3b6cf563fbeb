package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

func TestIndexSearchOrdersBySimilarity(t *testing.T) {
	t.Parallel()
	idx := NewIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: "exact", PlaceID: "p1", Vector: []float32{1, 0, 0}},
		{ItemID: "close", PlaceID: "p1", Vector: []float32{0.9, 0.1, 0}},
		{ItemID: "orthogonal", PlaceID: "p2", Vector: []float32{0, 1, 0}},
	}))

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "exact", matches[0].ItemID)
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	require.Equal(t, "close", matches[1].ItemID)
	require.Greater(t, matches[1].Similarity, 0.9)
}

func TestIndexUpsertReplacesVector(t *testing.T) {
	t.Parallel()
	idx := NewIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: "a", PlaceID: "p1", Vector: []float32{1, 0}},
	}))
	require.NoError(t, idx.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: "a", PlaceID: "p1", Vector: []float32{0, 1}},
	}))
	require.Equal(t, 1, idx.Len())

	matches, err := idx.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestIndexDelete(t *testing.T) {
	t.Parallel()
	idx := NewIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: "a", PlaceID: "p1", Vector: []float32{1, 0}},
		{ItemID: "b", PlaceID: "p1", Vector: []float32{0, 1}},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"a", "ghost"}))
	require.Equal(t, 1, idx.Len())

	matches, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "b", matches[0].ItemID)
}

func TestIndexZeroVectorScoresZero(t *testing.T) {
	t.Parallel()
	idx := NewIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: "a", PlaceID: "p1", Vector: []float32{0, 0}},
	}))
	matches, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Zero(t, matches[0].Similarity)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()
	cache := NewCache()
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
