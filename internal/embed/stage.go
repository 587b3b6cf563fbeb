package embed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Stage embeds the items named by an embed job and upserts their vectors
// into the search index.
type Stage struct {
	menus    pipeline.MenuStore
	embedder pipeline.Embedder
	index    pipeline.VectorIndex
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewStage wires the embed stage.
func NewStage(menus pipeline.MenuStore, embedder pipeline.Embedder, index pipeline.VectorIndex, clock pipeline.Clock, logger *zap.Logger) *Stage {
	return &Stage{menus: menus, embedder: embedder, index: index, clock: clock, logger: logger}
}

// Type reports the job type this stage consumes.
func (s *Stage) Type() pipeline.JobType { return pipeline.JobTypeEmbed }

// Handle embeds the payload's items. Items whose stored digest matches the
// current text are skipped; their vectors are still valid.
func (s *Stage) Handle(ctx context.Context, job pipeline.Job) error {
	decoded, err := pipeline.DecodePayload(job)
	if err != nil {
		return err
	}
	payload := decoded.(pipeline.EmbedPayload)
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("place_id", payload.PlaceID),
	)

	items, err := s.menus.GetItems(ctx, payload.MenuItemIDs)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	model := s.embedder.ModelVersion()
	var pending []pipeline.MenuItem
	var texts []string
	skipped := 0
	for _, item := range items {
		if item.Archived {
			skipped++
			continue
		}
		digest := Digest(item, model)
		if item.EmbeddedDigest == digest && len(item.Embedding) > 0 {
			skipped++
			continue
		}
		pending = append(pending, item)
		texts = append(texts, Text(item))
	}
	if len(pending) == 0 {
		logger.Debug("no items need embedding", zap.Int("skipped", skipped))
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d items: %w", len(pending), err)
	}

	now := s.clock.Now()
	entries := make([]pipeline.VectorEntry, 0, len(pending))
	for i, item := range pending {
		item.Embedding = vectors[i]
		item.EmbeddingModel = model
		item.EmbeddedDigest = Digest(item, model)
		item.UpdatedAt = now
		if err := s.menus.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("persist embedding for %s: %w", item.ID, err)
		}
		entries = append(entries, pipeline.VectorEntry{
			ItemID:  item.ID,
			PlaceID: item.PlaceID,
			Vector:  vectors[i],
		})
	}
	if err := s.index.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	logger.Info("items embedded",
		zap.Int("embedded", len(pending)),
		zap.Int("skipped", skipped),
		zap.String("model", model),
	)
	return nil
}
