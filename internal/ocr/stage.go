package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/artifact"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Stage handles OCR jobs: load the captured artifact, preprocess images,
// call the engine, persist the result as a derived JSON artifact, and
// enqueue the parse job.
type Stage struct {
	queue     pipeline.JobQueue
	artifacts *artifact.Service
	engine    pipeline.OCREngine
	ids       pipeline.IDGenerator
	logger    *zap.Logger
}

// NewStage wires the OCR stage.
func NewStage(queue pipeline.JobQueue, artifacts *artifact.Service, engine pipeline.OCREngine, ids pipeline.IDGenerator, logger *zap.Logger) *Stage {
	return &Stage{queue: queue, artifacts: artifacts, engine: engine, ids: ids, logger: logger}
}

// Type reports the job type this stage consumes.
func (s *Stage) Type() pipeline.JobType { return pipeline.JobTypeOCR }

// Handle processes one OCR job. The derived result artifact is persisted
// before the parse job is enqueued.
func (s *Stage) Handle(ctx context.Context, job pipeline.Job) error {
	decoded, err := pipeline.DecodePayload(job)
	if err != nil {
		return err
	}
	payload := decoded.(pipeline.OCRPayload)
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("artifact_id", payload.ArtifactID),
	)

	art, data, err := s.artifacts.Fetch(ctx, payload.ArtifactID)
	if err != nil {
		return fmt.Errorf("load source artifact: %w", err)
	}

	input := data
	mime := art.MIMEType
	if strings.HasPrefix(mime, "image/") {
		// PDFs pass through untouched; the engine paginates them itself.
		input, err = Preprocess(data)
		if err != nil {
			return fmt.Errorf("preprocess %s: %w", payload.ArtifactID, err)
		}
		mime = "image/png"
	}

	result, err := s.engine.Extract(ctx, input, mime)
	if err != nil {
		return fmt.Errorf("extract text from %s: %w", payload.ArtifactID, err)
	}
	result.ArtifactID = art.ID

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal ocr result: %w", err)
	}
	derived, _, err := s.artifacts.Put(ctx, artifact.Capture{
		CrawlRunID: payload.CrawlRunID,
		SourceURL:  art.SourceURL,
		Filename:   fmt.Sprintf("ocr-%s.json", art.ID),
		MIMEType:   "application/json",
		Data:       resultJSON,
	})
	if err != nil {
		return fmt.Errorf("persist ocr result: %w", err)
	}

	raw, err := pipeline.EncodePayload(pipeline.JobTypeParse, pipeline.ParsePayload{
		PlaceID:        payload.PlaceID,
		CrawlRunID:     payload.CrawlRunID,
		SourceArtifact: art.ID,
		OCRArtifactID:  derived.ID,
	})
	if err != nil {
		return fmt.Errorf("encode parse payload: %w", err)
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if err := s.queue.Enqueue(ctx, pipeline.Job{
		ID:       jobID,
		Type:     pipeline.JobTypeParse,
		Payload:  raw,
		Priority: job.Priority,
	}); err != nil {
		return fmt.Errorf("enqueue parse job: %w", err)
	}

	logger.Info("ocr completed",
		zap.Int("blocks", len(result.Blocks)),
		zap.Int("pages", result.PageCount),
		zap.String("derived_artifact", derived.ID),
	)
	return nil
}
