package score

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Recomputer rescores a place from its current items. It is invoked
// synchronously from every item mutation path, so the persisted score never
// lags more than one write behind the items.
type Recomputer struct {
	menus  pipeline.MenuStore
	places pipeline.PlaceStore
	logger *zap.Logger
}

// NewRecomputer wires the recomputer.
func NewRecomputer(menus pipeline.MenuStore, places pipeline.PlaceStore, logger *zap.Logger) *Recomputer {
	return &Recomputer{menus: menus, places: places, logger: logger}
}

// Recompute rescores one place and persists the result with its breakdown.
// Concurrent recomputes converge because each one reads the full current
// item state rather than applying a delta.
func (r *Recomputer) Recompute(ctx context.Context, placeID string) (*int, Breakdown, error) {
	items, err := r.menus.ListItems(ctx, placeID)
	if err != nil {
		return nil, Breakdown{}, fmt.Errorf("list items for %s: %w", placeID, err)
	}

	value, breakdown := Compute(items)
	detail, err := json.Marshal(breakdown)
	if err != nil {
		return nil, Breakdown{}, fmt.Errorf("encode score breakdown: %w", err)
	}
	if err := r.places.UpdateScore(ctx, placeID, value, Version, detail); err != nil {
		return nil, Breakdown{}, fmt.Errorf("persist score for %s: %w", placeID, err)
	}

	metrics.ObserveScoreRecompute()
	fields := []zap.Field{
		zap.String("place_id", placeID),
		zap.Int("items", breakdown.ItemCount),
	}
	if value != nil {
		fields = append(fields, zap.Int("score", *value))
	}
	r.logger.Debug("score recomputed", fields...)
	return value, breakdown, nil
}
