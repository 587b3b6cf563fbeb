package crawl

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/artifact"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// StageConfig tunes the crawl stage.
type StageConfig struct {
	AssetTimeout time.Duration
	MaxAssets    int
}

// Stage handles crawl jobs: robots check, homepage fetch (with a headless
// re-render for script-built pages), menu link discovery, asset capture, and
// fan-out to the OCR and parse stages.
type Stage struct {
	cfg       StageConfig
	queue     pipeline.JobQueue
	artifacts *artifact.Service
	runs      pipeline.CrawlRunStore
	places    pipeline.PlaceStore
	fetcher   Fetcher
	headless  Fetcher
	detector  *Detector
	robots    RobotsPolicy
	publisher pipeline.Publisher
	clock     pipeline.Clock
	ids       pipeline.IDGenerator
	logger    *zap.Logger
}

// StageDeps collects the stage's collaborators.
type StageDeps struct {
	Queue     pipeline.JobQueue
	Artifacts *artifact.Service
	Runs      pipeline.CrawlRunStore
	Places    pipeline.PlaceStore
	Fetcher   Fetcher
	Headless  Fetcher // optional; nil disables the re-render path
	Detector  *Detector
	Robots    RobotsPolicy
	Publisher pipeline.Publisher
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
	Logger    *zap.Logger
}

// NewStage wires the crawl stage.
func NewStage(cfg StageConfig, deps StageDeps) *Stage {
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = 30 * time.Second
	}
	if cfg.MaxAssets <= 0 {
		cfg.MaxAssets = 25
	}
	return &Stage{
		cfg:       cfg,
		queue:     deps.Queue,
		artifacts: deps.Artifacts,
		runs:      deps.Runs,
		places:    deps.Places,
		fetcher:   deps.Fetcher,
		headless:  deps.Headless,
		detector:  deps.Detector,
		robots:    deps.Robots,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
	}
}

// Type reports the job type this stage consumes.
func (s *Stage) Type() pipeline.JobType { return pipeline.JobTypeCrawl }

// Handle processes one crawl job. Per-asset failures are recorded on the
// run and skipped; only a homepage failure or robots denial fails the run.
func (s *Stage) Handle(ctx context.Context, job pipeline.Job) error {
	decoded, err := pipeline.DecodePayload(job)
	if err != nil {
		return err
	}
	payload := decoded.(pipeline.CrawlPayload)
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("place_id", payload.PlaceID),
		zap.String("crawl_run_id", payload.CrawlRunID),
	)

	run, err := s.runs.Get(ctx, payload.CrawlRunID)
	if err != nil {
		return fmt.Errorf("load crawl run: %w", err)
	}
	started := s.clock.Now()
	run.Status = pipeline.CrawlRunRunning
	run.StartedAt = &started
	run.RobotsAllowed = true
	if err := s.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}

	if !s.robots.Allowed(ctx, payload.WebsiteURL) {
		run.RobotsAllowed = false
		s.finishRun(ctx, &run, pipeline.CrawlRunFailed, "robots.txt disallows crawling")
		return pipeline.Permanentf("robots.txt disallows %s", payload.WebsiteURL)
	}

	home, err := s.fetchHomepage(ctx, payload.WebsiteURL, logger)
	if err != nil {
		s.finishRun(ctx, &run, pipeline.CrawlRunFailed, fmt.Sprintf("homepage fetch: %v", err))
		return fmt.Errorf("fetch homepage %s: %w", payload.WebsiteURL, err)
	}

	homeArt, _, err := s.artifacts.Put(ctx, artifact.Capture{
		CrawlRunID: run.ID,
		SourceURL:  home.URL,
		Filename:   "homepage.html",
		MIMEType:   "text/html",
		Data:       home.Body,
	})
	if err != nil {
		s.finishRun(ctx, &run, pipeline.CrawlRunFailed, fmt.Sprintf("store homepage: %v", err))
		return fmt.Errorf("store homepage artifact: %w", err)
	}
	run.ArtifactCount++

	structured := ExtractStructuredItems(home.Body)
	links, err := ExtractMenuLinks(home.URL, home.Body)
	if err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("link extraction: %v", err))
	}
	if len(links) > s.cfg.MaxAssets {
		links = links[:s.cfg.MaxAssets]
	}

	var ocrArtifacts []pipeline.Artifact
	for _, link := range links {
		run.DiscoveredURLs = append(run.DiscoveredURLs, link.URL)
		art, items, err := s.captureAsset(ctx, run.ID, link)
		if err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", link.URL, err))
			logger.Warn("asset capture failed", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		run.ArtifactCount++
		structured = appendNewItems(structured, items)
		if isOCRInput(art.MIMEType) {
			ocrArtifacts = append(ocrArtifacts, art)
		}
	}

	// Rows are durable; fan out to the next stages.
	for _, art := range ocrArtifacts {
		if err := s.enqueueOCR(ctx, payload, art, job.Priority); err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("enqueue ocr for %s: %v", art.ID, err))
		}
	}
	if err := s.enqueueParse(ctx, payload, homeArt.ID, structured, job.Priority); err != nil {
		s.finishRun(ctx, &run, pipeline.CrawlRunFailed, fmt.Sprintf("enqueue parse: %v", err))
		return fmt.Errorf("enqueue parse job: %w", err)
	}

	s.finishRun(ctx, &run, pipeline.CrawlRunCompleted, "")
	if err := s.places.MarkCrawled(ctx, payload.PlaceID, s.clock.Now()); err != nil {
		logger.Warn("mark place crawled failed", zap.Error(err))
	}
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, "crawl.completed", run); err != nil {
			logger.Warn("publish crawl event failed", zap.Error(err))
		}
	}
	logger.Info("crawl completed",
		zap.Int("artifacts", run.ArtifactCount),
		zap.Int("structured_items", len(structured)),
		zap.Int("ocr_jobs", len(ocrArtifacts)),
		zap.Int("asset_errors", len(run.Errors)),
	)
	return nil
}

func (s *Stage) fetchHomepage(ctx context.Context, rawURL string, logger *zap.Logger) (FetchResponse, error) {
	resp, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return FetchResponse{}, err
	}
	if s.headless != nil && s.detector != nil && s.detector.ShouldRender(resp) {
		rendered, rerr := s.headless.Fetch(ctx, rawURL)
		if rerr != nil {
			logger.Warn("headless render failed; using static body", zap.Error(rerr))
			return resp, nil
		}
		return rendered, nil
	}
	return resp, nil
}

func (s *Stage) captureAsset(ctx context.Context, runID string, link CandidateLink) (pipeline.Artifact, []pipeline.StructuredItem, error) {
	assetCtx, cancel := context.WithTimeout(ctx, s.cfg.AssetTimeout)
	defer cancel()

	resp, err := s.fetcher.Fetch(assetCtx, link.URL)
	if err != nil {
		return pipeline.Artifact{}, nil, err
	}
	if resp.StatusCode >= 400 {
		return pipeline.Artifact{}, nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	mime := resp.Headers.Get("Content-Type")
	if mime == "" {
		mime = link.MIMEType
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	art, _, err := s.artifacts.Put(ctx, artifact.Capture{
		CrawlRunID: runID,
		SourceURL:  link.URL,
		Filename:   filenameFromURL(link.URL),
		MIMEType:   mime,
		Data:       resp.Body,
	})
	if err != nil {
		return pipeline.Artifact{}, nil, err
	}

	var items []pipeline.StructuredItem
	if mime == "text/html" {
		items = ExtractStructuredItems(resp.Body)
	}
	return art, items, nil
}

func (s *Stage) enqueueOCR(ctx context.Context, payload pipeline.CrawlPayload, art pipeline.Artifact, priority int) error {
	raw, err := pipeline.EncodePayload(pipeline.JobTypeOCR, pipeline.OCRPayload{
		PlaceID:    payload.PlaceID,
		CrawlRunID: payload.CrawlRunID,
		ArtifactID: art.ID,
	})
	if err != nil {
		return err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, pipeline.Job{
		ID:       id,
		Type:     pipeline.JobTypeOCR,
		Payload:  raw,
		Priority: priority,
	})
}

func (s *Stage) enqueueParse(ctx context.Context, payload pipeline.CrawlPayload, homeArtifactID string, structured []pipeline.StructuredItem, priority int) error {
	raw, err := pipeline.EncodePayload(pipeline.JobTypeParse, pipeline.ParsePayload{
		PlaceID:         payload.PlaceID,
		CrawlRunID:      payload.CrawlRunID,
		SourceArtifact:  homeArtifactID,
		StructuredItems: structured,
	})
	if err != nil {
		return err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, pipeline.Job{
		ID:       id,
		Type:     pipeline.JobTypeParse,
		Payload:  raw,
		Priority: priority,
	})
}

func (s *Stage) finishRun(ctx context.Context, run *pipeline.CrawlRun, status pipeline.CrawlRunStatus, errMsg string) {
	finished := s.clock.Now()
	run.Status = status
	run.FinishedAt = &finished
	if errMsg != "" {
		run.Errors = append(run.Errors, errMsg)
	}
	if err := s.runs.Update(ctx, *run); err != nil {
		s.logger.Error("update crawl run failed", zap.String("crawl_run_id", run.ID), zap.Error(err))
	}
}

func appendNewItems(dst, extra []pipeline.StructuredItem) []pipeline.StructuredItem {
	seen := make(map[string]bool, len(dst))
	for _, item := range dst {
		seen[strings.ToLower(strings.TrimSpace(item.Name))] = true
	}
	for _, item := range extra {
		key := strings.ToLower(strings.TrimSpace(item.Name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, item)
	}
	return dst
}

func isOCRInput(mime string) bool {
	return mime == "application/pdf" || strings.HasPrefix(mime, "image/")
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "asset"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "asset"
	}
	return name
}
