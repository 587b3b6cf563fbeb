package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// ArtifactStore persists artifact metadata in Postgres. The content_hash
// column carries a unique constraint; dedup lookups hit it directly.
type ArtifactStore struct {
	pool dbConn
}

// NewArtifactStore constructs the store from an existing pool.
func NewArtifactStore(pool dbConn) (*ArtifactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArtifactStore{pool: pool}, nil
}

const artifactColumns = `id, crawl_run_id, storage_path, blob_uri, mime_type, byte_size, content_hash, source_url, created_at`

// GetByHash returns the artifact with the given content hash, if any.
func (s *ArtifactStore) GetByHash(ctx context.Context, hash string) (pipeline.Artifact, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE content_hash = $1`, artifactColumns)
	art, err := scanArtifact(s.pool.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Artifact{}, false, nil
		}
		return pipeline.Artifact{}, false, fmt.Errorf("get artifact by hash: %w", err)
	}
	return art, true, nil
}

// GetByID returns the artifact with the given ID.
func (s *ArtifactStore) GetByID(ctx context.Context, id string) (pipeline.Artifact, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE id = $1`, artifactColumns)
	art, err := scanArtifact(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Artifact{}, fmt.Errorf("artifact %q: %w", id, pipeline.ErrNotFound)
		}
		return pipeline.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return art, nil
}

// Create persists new artifact metadata.
func (s *ArtifactStore) Create(ctx context.Context, artifact pipeline.Artifact) error {
	if artifact.ID == "" || artifact.ContentHash == "" {
		return fmt.Errorf("artifact id and content hash are required")
	}
	const query = `
INSERT INTO artifacts (id, crawl_run_id, storage_path, blob_uri, mime_type, byte_size, content_hash, source_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.pool.Exec(ctx, query,
		artifact.ID, nullable(artifact.CrawlRunID), artifact.StoragePath,
		artifact.BlobURI, artifact.MIMEType, artifact.ByteSize,
		artifact.ContentHash, nullable(artifact.SourceURL), artifact.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Attach links an existing artifact to an additional crawl run.
func (s *ArtifactStore) Attach(ctx context.Context, artifactID, crawlRunID string) error {
	const query = `
INSERT INTO artifact_attachments (artifact_id, crawl_run_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, artifactID, crawlRunID); err != nil {
		return fmt.Errorf("attach artifact: %w", err)
	}
	return nil
}

func scanArtifact(row pgx.Row) (pipeline.Artifact, error) {
	var (
		art        pipeline.Artifact
		crawlRunID *string
		sourceURL  *string
	)
	err := row.Scan(&art.ID, &crawlRunID, &art.StoragePath, &art.BlobURI,
		&art.MIMEType, &art.ByteSize, &art.ContentHash, &sourceURL, &art.CreatedAt)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if crawlRunID != nil {
		art.CrawlRunID = *crawlRunID
	}
	if sourceURL != nil {
		art.SourceURL = *sourceURL
	}
	return art, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
