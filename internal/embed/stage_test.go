package embed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/pipeline"
	storemem "github.com/grazeapp/menupipe/internal/store/memory"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

type fakeEmbedder struct {
	calls int
	texts [][]string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.texts = append(f.texts, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelVersion() string { return "test-model" }
func (f *fakeEmbedder) Dimension() int       { return 3 }

type fakeIndex struct {
	entries map[string]pipeline.VectorEntry
}

func newFakeIndex() *fakeIndex { return &fakeIndex{entries: map[string]pipeline.VectorEntry{}} }

func (f *fakeIndex) Upsert(_ context.Context, entries []pipeline.VectorEntry) error {
	for _, e := range entries {
		f.entries[e.ItemID] = e
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, itemIDs []string) error {
	for _, id := range itemIDs {
		delete(f.entries, id)
	}
	return nil
}

func (f *fakeIndex) Search(context.Context, []float32, int) ([]pipeline.VectorMatch, error) {
	return nil, nil
}

func embedJob(t *testing.T, itemIDs ...string) pipeline.Job {
	t.Helper()
	raw, err := pipeline.EncodePayload(pipeline.JobTypeEmbed, pipeline.EmbedPayload{
		PlaceID: "place-1", MenuItemIDs: itemIDs,
	})
	require.NoError(t, err)
	return pipeline.Job{ID: "job-embed", Type: pipeline.JobTypeEmbed, Payload: raw}
}

func newEmbedFixture(t *testing.T) (*Stage, *storemem.MenuStore, *fakeEmbedder, *fakeIndex) {
	t.Helper()
	menus := storemem.NewMenuStore()
	require.NoError(t, menus.CreateMenu(context.Background(), pipeline.Menu{
		ID: "menu-1", PlaceID: "place-1", Source: pipeline.MenuSourceCrawl,
	}))
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	clock := stubClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	return NewStage(menus, embedder, index, clock, zap.NewNop()), menus, embedder, index
}

func TestHandleEmbedsAndIndexesItems(t *testing.T) {
	t.Parallel()
	stage, menus, embedder, index := newEmbedFixture(t)
	ctx := context.Background()

	require.NoError(t, menus.CreateItem(ctx, pipeline.MenuItem{
		ID: "item-1", MenuID: "menu-1", PlaceID: "place-1",
		Name: "Pad Thai", Section: "mains", DietaryLabels: []string{"vegetarian"},
	}))

	require.NoError(t, stage.Handle(ctx, embedJob(t, "item-1")))
	require.Equal(t, 1, embedder.calls)
	require.Equal(t, "Pad Thai | Section: mains | Labels: vegetarian", embedder.texts[0][0])

	item, err := menus.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, item.Embedding, 3)
	require.Equal(t, "test-model", item.EmbeddingModel)
	require.NotEmpty(t, item.EmbeddedDigest)

	entry, ok := index.entries["item-1"]
	require.True(t, ok)
	require.Equal(t, "place-1", entry.PlaceID)
	require.Equal(t, item.Embedding, entry.Vector)
}

func TestHandleSkipsUnchangedItems(t *testing.T) {
	t.Parallel()
	stage, menus, embedder, _ := newEmbedFixture(t)
	ctx := context.Background()

	require.NoError(t, menus.CreateItem(ctx, pipeline.MenuItem{
		ID: "item-1", MenuID: "menu-1", PlaceID: "place-1", Name: "Pad Thai",
	}))
	require.NoError(t, stage.Handle(ctx, embedJob(t, "item-1")))
	require.Equal(t, 1, embedder.calls)

	// Same text, same model: the second job is a no-op.
	require.NoError(t, stage.Handle(ctx, embedJob(t, "item-1")))
	require.Equal(t, 1, embedder.calls)

	// A rename invalidates the digest.
	item, err := menus.GetItem(ctx, "item-1")
	require.NoError(t, err)
	item.Name = "Pad See Ew"
	require.NoError(t, menus.UpdateItem(ctx, item))
	require.NoError(t, stage.Handle(ctx, embedJob(t, "item-1")))
	require.Equal(t, 2, embedder.calls)
}

func TestHandleSkipsArchivedAndMissingItems(t *testing.T) {
	t.Parallel()
	stage, menus, embedder, _ := newEmbedFixture(t)
	ctx := context.Background()

	require.NoError(t, menus.CreateItem(ctx, pipeline.MenuItem{
		ID: "item-1", MenuID: "menu-1", PlaceID: "place-1", Name: "Pad Thai", Archived: true,
	}))

	require.NoError(t, stage.Handle(ctx, embedJob(t, "item-1", "ghost")))
	require.Zero(t, embedder.calls)
}

func TestHandleEmbedFailureIsRetryable(t *testing.T) {
	t.Parallel()
	_, menus, _, index := newEmbedFixture(t)
	ctx := context.Background()

	require.NoError(t, menus.CreateItem(ctx, pipeline.MenuItem{
		ID: "item-1", MenuID: "menu-1", PlaceID: "place-1", Name: "Pad Thai",
	}))
	stage := NewStage(menus, failingEmbedder{}, index, stubClock{t: time.Now()}, zap.NewNop())

	err := stage.Handle(ctx, embedJob(t, "item-1"))
	require.Error(t, err)
	require.False(t, pipeline.IsPermanent(err))

	item, err := menus.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.Empty(t, item.Embedding)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("service unavailable")
}
func (failingEmbedder) ModelVersion() string { return "test-model" }
func (failingEmbedder) Dimension() int       { return 3 }
