package menuparse

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/artifact"
	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	"github.com/grazeapp/menupipe/internal/score"
)

// ParserVersion tags menus with the parse algorithm that produced them.
const ParserVersion = "v1"

// Stage handles parse jobs: gather OCR and structured candidates, merge,
// persist MenuItems, and fan out one label job per item.
type Stage struct {
	queue      pipeline.JobQueue
	artifacts  *artifact.Service
	menus      pipeline.MenuStore
	recomputer *score.Recomputer
	clock      pipeline.Clock
	ids        pipeline.IDGenerator
	logger     *zap.Logger
}

// NewStage wires the parse stage.
func NewStage(queue pipeline.JobQueue, artifacts *artifact.Service, menus pipeline.MenuStore, recomputer *score.Recomputer, clock pipeline.Clock, ids pipeline.IDGenerator, logger *zap.Logger) *Stage {
	return &Stage{queue: queue, artifacts: artifacts, menus: menus, recomputer: recomputer, clock: clock, ids: ids, logger: logger}
}

// Type reports the job type this stage consumes.
func (s *Stage) Type() pipeline.JobType { return pipeline.JobTypeParse }

// Handle processes one parse job. The crawl-origin job (no OCR artifact)
// archives the previous crawl menus; OCR-derived jobs append to the run,
// deduplicating against items already persisted for the place.
func (s *Stage) Handle(ctx context.Context, job pipeline.Job) error {
	decoded, err := pipeline.DecodePayload(job)
	if err != nil {
		return err
	}
	payload := decoded.(pipeline.ParsePayload)
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("place_id", payload.PlaceID),
	)

	var ocrCandidates []Candidate
	sourceArtifact := payload.SourceArtifact
	if payload.OCRArtifactID != "" {
		_, data, err := s.artifacts.Fetch(ctx, payload.OCRArtifactID)
		if err != nil {
			return fmt.Errorf("load ocr result artifact: %w", err)
		}
		var result pipeline.OCRResult
		if err := json.Unmarshal(data, &result); err != nil {
			return pipeline.Permanentf("decode ocr result artifact %s: %v", payload.OCRArtifactID, err)
		}
		ocrCandidates = ParseBlocks(result.Blocks)
		if result.ArtifactID != "" {
			sourceArtifact = result.ArtifactID
		}
	}

	knownNames := make(map[string]bool)
	archived := false
	if payload.OCRArtifactID == "" {
		if err := s.menus.ArchiveMenus(ctx, payload.PlaceID, pipeline.MenuSourceCrawl); err != nil {
			return fmt.Errorf("archive previous menus: %w", err)
		}
		archived = true
	} else {
		existing, err := s.menus.ListItems(ctx, payload.PlaceID)
		if err != nil {
			return fmt.Errorf("list existing items: %w", err)
		}
		for _, item := range existing {
			knownNames[item.Name] = true
		}
	}

	merged := Merge(payload.StructuredItems, ocrCandidates, knownNames)
	if len(merged) == 0 {
		// Archiving removed items from the scoring input, so a stale
		// score must not survive an empty re-parse.
		if archived {
			if _, _, err := s.recomputer.Recompute(ctx, payload.PlaceID); err != nil {
				return fmt.Errorf("recompute score: %w", err)
			}
		}
		logger.Info("parse produced no items")
		return nil
	}

	menuID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate menu id: %w", err)
	}
	now := s.clock.Now()

	var confidenceSum float64
	items := make([]pipeline.MenuItem, 0, len(merged))
	for _, cand := range merged {
		itemID, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("generate item id: %w", err)
		}
		conf := Confidence(cand)
		confidenceSum += conf
		items = append(items, pipeline.MenuItem{
			ID:          itemID,
			MenuID:      menuID,
			PlaceID:     payload.PlaceID,
			Section:     cand.Section,
			Name:        cand.Name,
			Description: cand.Description,
			Price:       cand.Price,
			Currency:    cand.Currency,
			Confidence:  conf,
			ArtifactID:  sourceArtifact,
			UpdatedAt:   now,
		})
	}

	if err := s.menus.CreateMenu(ctx, pipeline.Menu{
		ID:            menuID,
		PlaceID:       payload.PlaceID,
		Source:        pipeline.MenuSourceCrawl,
		ParsedAt:      now,
		ParserVersion: ParserVersion,
		Confidence:    confidenceSum / float64(len(items)),
	}); err != nil {
		return fmt.Errorf("create menu: %w", err)
	}
	for _, item := range items {
		if err := s.menus.CreateItem(ctx, item); err != nil {
			return fmt.Errorf("create item %q: %w", item.Name, err)
		}
	}

	if _, _, err := s.recomputer.Recompute(ctx, payload.PlaceID); err != nil {
		return fmt.Errorf("recompute score: %w", err)
	}

	// Items are durable; fan out labeling.
	for _, item := range items {
		raw, err := pipeline.EncodePayload(pipeline.JobTypeLabel, pipeline.LabelPayload{
			PlaceID:    payload.PlaceID,
			MenuItemID: item.ID,
		})
		if err != nil {
			return fmt.Errorf("encode label payload: %w", err)
		}
		jobID, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		if err := s.queue.Enqueue(ctx, pipeline.Job{
			ID:       jobID,
			Type:     pipeline.JobTypeLabel,
			Payload:  raw,
			Priority: job.Priority,
		}); err != nil {
			return fmt.Errorf("enqueue label job for %s: %w", item.ID, err)
		}
	}

	metrics.ObserveItemsParsed(len(items))
	logger.Info("parse completed",
		zap.String("menu_id", menuID),
		zap.Int("items", len(items)),
		zap.Int("structured", len(payload.StructuredItems)),
		zap.Int("ocr_candidates", len(ocrCandidates)),
	)
	return nil
}
