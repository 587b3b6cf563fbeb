package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

func TestArchiveMenusBySource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMenuStore()

	require.NoError(t, store.CreateMenu(ctx, pipeline.Menu{ID: "m1", PlaceID: "p1", Source: pipeline.MenuSourceCrawl}))
	require.NoError(t, store.CreateMenu(ctx, pipeline.Menu{ID: "m2", PlaceID: "p1", Source: pipeline.MenuSourceUpload}))
	require.NoError(t, store.CreateItem(ctx, pipeline.MenuItem{ID: "i1", MenuID: "m1", PlaceID: "p1", Name: "Soup"}))
	require.NoError(t, store.CreateItem(ctx, pipeline.MenuItem{ID: "i2", MenuID: "m2", PlaceID: "p1", Name: "Salad"}))

	require.NoError(t, store.ArchiveMenus(ctx, "p1", pipeline.MenuSourceCrawl))

	menus, err := store.ListMenus(ctx, "p1", false)
	require.NoError(t, err)
	require.Len(t, menus, 1)
	require.Equal(t, "m2", menus[0].ID)

	// Items on the archived menu drop out of the scoring input.
	items, err := store.ListItems(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "i2", items[0].ID)

	all, err := store.ListMenus(ctx, "p1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestGetItemsSkipsUnknownIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMenuStore()

	require.NoError(t, store.CreateItem(ctx, pipeline.MenuItem{ID: "i1", MenuID: "m1", PlaceID: "p1", Name: "Soup"}))

	items, err := store.GetItems(ctx, []string{"i1", "gone"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "i1", items[0].ID)
}

func TestUpdateItemMissing(t *testing.T) {
	t.Parallel()

	err := NewMenuStore().UpdateItem(context.Background(), pipeline.MenuItem{ID: "nope"})
	require.True(t, errors.Is(err, pipeline.ErrNotFound))
}

func TestListItemsSortedByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMenuStore()

	for _, id := range []string{"i3", "i1", "i2"} {
		require.NoError(t, store.CreateItem(ctx, pipeline.MenuItem{ID: id, MenuID: "m1", PlaceID: "p1", Name: id}))
	}

	items, err := store.ListItems(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "i1", items[0].ID)
	require.Equal(t, "i2", items[1].ID)
	require.Equal(t, "i3", items[2].ID)
}
