package label

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/pipeline"
	"github.com/grazeapp/menupipe/internal/score"
)

// Stage labels one item per job, recomputes the owning place's score, and
// enqueues the embed job.
type Stage struct {
	queue      pipeline.JobQueue
	menus      pipeline.MenuStore
	recomputer *score.Recomputer
	classifier pipeline.Classifier
	clock      pipeline.Clock
	ids        pipeline.IDGenerator
	logger     *zap.Logger
}

// NewStage wires the label stage. A nil classifier disables the fallback;
// low-confidence rule results are then persisted as-is.
func NewStage(queue pipeline.JobQueue, menus pipeline.MenuStore, recomputer *score.Recomputer, classifier pipeline.Classifier, clock pipeline.Clock, ids pipeline.IDGenerator, logger *zap.Logger) *Stage {
	return &Stage{
		queue:      queue,
		menus:      menus,
		recomputer: recomputer,
		classifier: classifier,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// Type reports the job type this stage consumes.
func (s *Stage) Type() pipeline.JobType { return pipeline.JobTypeLabel }

// Handle labels one menu item. The rule engine runs first; the external
// classifier is consulted only below the rule threshold, and an outage there
// degrades to the rule result rather than failing the job.
func (s *Stage) Handle(ctx context.Context, job pipeline.Job) error {
	decoded, err := pipeline.DecodePayload(job)
	if err != nil {
		return err
	}
	payload := decoded.(pipeline.LabelPayload)
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("item_id", payload.MenuItemID),
	)

	item, err := s.menus.GetItem(ctx, payload.MenuItemID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return pipeline.Permanentf("item %s no longer exists", payload.MenuItemID)
		}
		return fmt.Errorf("load item: %w", err)
	}

	text := strings.TrimSpace(item.Name + " " + item.Description)
	result := Evaluate(text)
	labels := result.Labels
	confidence := result.Confidence
	method := pipeline.LabelMethodRule

	if confidence < AcceptThreshold && s.classifier != nil {
		verdicts, err := s.classifier.Classify(ctx, []string{text})
		switch {
		case err != nil:
			logger.Warn("classifier unavailable, keeping rule result", zap.Error(err))
		case len(verdicts) == 0:
			logger.Warn("classifier returned no verdicts, keeping rule result")
		case verdicts[0].Confidence > confidence:
			labels = verdicts[0].Labels
			confidence = verdicts[0].Confidence
			method = pipeline.LabelMethodFallback
		}
	}

	item.DietaryLabels = labels
	item.LabelConfidence = confidence
	item.LabelMethod = method
	item.UpdatedAt = s.clock.Now()
	if err := s.menus.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("persist labels for %s: %w", item.ID, err)
	}

	if _, _, err := s.recomputer.Recompute(ctx, payload.PlaceID); err != nil {
		return fmt.Errorf("recompute score: %w", err)
	}

	raw, err := pipeline.EncodePayload(pipeline.JobTypeEmbed, pipeline.EmbedPayload{
		PlaceID:     payload.PlaceID,
		MenuItemIDs: []string{item.ID},
	})
	if err != nil {
		return fmt.Errorf("encode embed payload: %w", err)
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if err := s.queue.Enqueue(ctx, pipeline.Job{
		ID:       jobID,
		Type:     pipeline.JobTypeEmbed,
		Payload:  raw,
		Priority: job.Priority,
	}); err != nil {
		return fmt.Errorf("enqueue embed job: %w", err)
	}

	logger.Info("item labeled",
		zap.Strings("labels", labels),
		zap.Float64("confidence", confidence),
		zap.String("method", string(method)),
	)
	return nil
}
