package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// CrawlRunStore persists crawl runs in Postgres. URL and error lists are
// stored as text arrays.
type CrawlRunStore struct {
	pool dbConn
}

// NewCrawlRunStore constructs the store from an existing pool.
func NewCrawlRunStore(pool dbConn) (*CrawlRunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlRunStore{pool: pool}, nil
}

// Create persists a new crawl run.
func (s *CrawlRunStore) Create(ctx context.Context, run pipeline.CrawlRun) error {
	if run.ID == "" {
		return fmt.Errorf("crawl run id is required")
	}
	const query = `
INSERT INTO crawl_runs (id, place_id, status, started_at, finished_at, discovered_urls, robots_allowed, errors, artifact_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.pool.Exec(ctx, query,
		run.ID, run.PlaceID, string(run.Status), run.StartedAt, run.FinishedAt,
		run.DiscoveredURLs, run.RobotsAllowed, run.Errors, run.ArtifactCount,
	); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of a run.
func (s *CrawlRunStore) Update(ctx context.Context, run pipeline.CrawlRun) error {
	const query = `
UPDATE crawl_runs SET status = $2, started_at = $3, finished_at = $4,
	discovered_urls = $5, robots_allowed = $6, errors = $7, artifact_count = $8
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.StartedAt, run.FinishedAt,
		run.DiscoveredURLs, run.RobotsAllowed, run.Errors, run.ArtifactCount,
	)
	if err != nil {
		return fmt.Errorf("update crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl run %q: %w", run.ID, pipeline.ErrNotFound)
	}
	return nil
}

// Get returns the run with the given ID.
func (s *CrawlRunStore) Get(ctx context.Context, id string) (pipeline.CrawlRun, error) {
	const query = `
SELECT id, place_id, status, started_at, finished_at, discovered_urls, robots_allowed, errors, artifact_count
FROM crawl_runs WHERE id = $1`
	var (
		run    pipeline.CrawlRun
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&run.ID, &run.PlaceID, &status,
		&run.StartedAt, &run.FinishedAt, &run.DiscoveredURLs, &run.RobotsAllowed,
		&run.Errors, &run.ArtifactCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.CrawlRun{}, fmt.Errorf("crawl run %q: %w", id, pipeline.ErrNotFound)
		}
		return pipeline.CrawlRun{}, fmt.Errorf("get crawl run: %w", err)
	}
	run.Status = pipeline.CrawlRunStatus(status)
	return run, nil
}
