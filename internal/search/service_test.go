package search

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	searchmem "github.com/grazeapp/menupipe/internal/search/memory"
	storemem "github.com/grazeapp/menupipe/internal/store/memory"
)

// queryEmbedder returns a canned vector for any text and counts calls.
type queryEmbedder struct {
	vector []float32
	calls  int
}

func (e *queryEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *queryEmbedder) ModelVersion() string { return "test-model" }
func (e *queryEmbedder) Dimension() int       { return len(e.vector) }

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("connection refused")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("connection refused")
}

type searchFixture struct {
	svc    *Service
	index  *searchmem.Index
	menus  *storemem.MenuStore
	places *storemem.PlaceStore
	embed  *queryEmbedder
}

func newSearchFixture(t *testing.T, cache pipeline.QueryCache) *searchFixture {
	t.Helper()
	metrics.Init()
	fx := &searchFixture{
		index:  searchmem.NewIndex(),
		menus:  storemem.NewMenuStore(),
		places: storemem.NewPlaceStore(),
		embed:  &queryEmbedder{vector: []float32{1, 0, 0}},
	}
	fx.svc = NewService(ServiceConfig{}, fx.embed, fx.index, fx.menus, fx.places, cache, zap.NewNop())
	return fx
}

// addScoredItem indexes one item with a vector whose cosine similarity to
// the fixed query vector (1,0,0) equals sim.
func (fx *searchFixture) addScoredItem(t *testing.T, placeID, itemID string, sim float64, labels []string) {
	t.Helper()
	ctx := context.Background()
	menuID := "menu-" + placeID
	if _, err := fx.places.Get(ctx, placeID); err != nil {
		require.NoError(t, fx.places.Create(ctx, pipeline.Place{
			ID: placeID, Name: "Place " + placeID, Lat: 40.0, Lng: -74.0,
		}))
		require.NoError(t, fx.menus.CreateMenu(ctx, pipeline.Menu{
			ID: menuID, PlaceID: placeID, Source: pipeline.MenuSourceCrawl,
		}))
	}
	require.NoError(t, fx.menus.CreateItem(ctx, pipeline.MenuItem{
		ID: itemID, MenuID: menuID, PlaceID: placeID,
		Name: "item " + itemID, Section: "mains", DietaryLabels: labels,
	}))
	// A unit vector (sim, sqrt(1-sim²), 0) has exactly cosine sim against
	// the query vector (1, 0, 0).
	vec := []float32{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0}
	require.NoError(t, fx.index.Upsert(ctx, []pipeline.VectorEntry{
		{ItemID: itemID, PlaceID: placeID, Vector: vec},
	}))
}

func TestSearchAppliesSimilarityFloor(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, nil)
	ctx := context.Background()

	fx.addScoredItem(t, "p1", "below", 0.65, nil)
	resp, err := fx.svc.Search(ctx, Request{Text: "spicy noodles"})
	require.NoError(t, err)
	require.Empty(t, resp.Results)

	fx.addScoredItem(t, "p2", "above", 0.71, nil)
	resp, err = fx.svc.Search(ctx, Request{Text: "spicy noodles"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "p2", resp.Results[0].Place.ID)
	require.Len(t, resp.Results[0].Items, 1)
	require.InDelta(t, 0.71, resp.Results[0].Match, 1e-3)
}

func TestSearchAggregatesByPlaceAndSorts(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, nil)
	ctx := context.Background()

	fx.addScoredItem(t, "p1", "a", 0.9, nil)
	fx.addScoredItem(t, "p1", "b", 0.8, nil)
	fx.addScoredItem(t, "p2", "c", 0.95, nil)

	resp, err := fx.svc.Search(ctx, Request{Text: "noodles"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	require.Equal(t, "p2", resp.Results[0].Place.ID)
	require.InDelta(t, 0.95, resp.Results[0].Match, 1e-3)
	require.Equal(t, "p1", resp.Results[1].Place.ID)
	require.InDelta(t, 0.85, resp.Results[1].Match, 1e-3)
	require.Len(t, resp.Results[1].Items, 2)
	// Items within a place ordered best-first.
	require.Equal(t, "a", resp.Results[1].Items[0].Item.ID)
}

func TestSearchLabelFilterRequiresAll(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, nil)
	ctx := context.Background()

	fx.addScoredItem(t, "p1", "vegan-only", 0.9, []string{"vegan"})
	fx.addScoredItem(t, "p2", "both", 0.85, []string{"vegan", "gluten-free"})

	resp, err := fx.svc.Search(ctx, Request{Text: "curry", Labels: []string{"vegan", "gluten-free"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "p2", resp.Results[0].Place.ID)
}

func TestSearchGeoRadiusFilter(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, nil)
	ctx := context.Background()

	// The far place sits ~111 km north of the query point.
	require.NoError(t, fx.places.Create(ctx, pipeline.Place{
		ID: "far", Name: "Far Place", Lat: 41.0, Lng: -74.0,
	}))
	require.NoError(t, fx.menus.CreateMenu(ctx, pipeline.Menu{
		ID: "menu-far", PlaceID: "far", Source: pipeline.MenuSourceCrawl,
	}))
	fx.addScoredItem(t, "near", "n1", 0.9, nil)
	fx.addScoredItem(t, "far", "f1", 0.95, nil)

	lat, lng, radius := 40.0, -74.0, 10.0
	resp, err := fx.svc.Search(ctx, Request{Text: "curry", Lat: &lat, Lng: &lng, MaxDistanceKM: &radius})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "near", resp.Results[0].Place.ID)
	require.NotNil(t, resp.Results[0].DistanceKM)
	require.InDelta(t, 0.0, *resp.Results[0].DistanceKM, 0.01)
}

func TestSearchCachesResponses(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, searchmem.NewCache())
	ctx := context.Background()

	fx.addScoredItem(t, "p1", "a", 0.9, nil)

	first, err := fx.svc.Search(ctx, Request{Text: "Pad  Thai"})
	require.NoError(t, err)
	require.Equal(t, 1, fx.embed.calls)

	// Whitespace and case changes hit the same cache entry.
	second, err := fx.svc.Search(ctx, Request{Text: "pad thai"})
	require.NoError(t, err)
	require.Equal(t, 1, fx.embed.calls)
	require.Equal(t, first, second)

	// Different filters bypass the entry.
	_, err = fx.svc.Search(ctx, Request{Text: "pad thai", Labels: []string{"vegan"}})
	require.NoError(t, err)
	require.Equal(t, 2, fx.embed.calls)
}

func TestSearchCacheOutageDegradesToLive(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, failingCache{})
	ctx := context.Background()

	fx.addScoredItem(t, "p1", "a", 0.9, nil)

	resp, err := fx.svc.Search(ctx, Request{Text: "noodles"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestSearchRequiresText(t *testing.T) {
	t.Parallel()
	fx := newSearchFixture(t, nil)

	_, err := fx.svc.Search(context.Background(), Request{Text: "   "})
	require.Error(t, err)
}

func TestHaversine(t *testing.T) {
	t.Parallel()

	// One degree of latitude is ~111 km.
	require.InDelta(t, 111.2, haversineKM(40, -74, 41, -74), 1.0)
	require.Zero(t, haversineKM(40, -74, 40, -74))
}
