// Package artifact provides content-addressed artifact capture with
// hash-based deduplication over a blob store and a metadata store.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Capture is what a stage hands the service for one fetched file.
type Capture struct {
	CrawlRunID string
	SourceURL  string
	Filename   string
	MIMEType   string
	Data       []byte
}

// Service stores artifacts exactly once per content hash.
type Service struct {
	blobs  pipeline.BlobStore
	meta   pipeline.ArtifactStore
	hasher pipeline.Hasher
	clock  pipeline.Clock
	ids    pipeline.IDGenerator
}

// NewService wires the capture service.
func NewService(blobs pipeline.BlobStore, meta pipeline.ArtifactStore, hasher pipeline.Hasher, clock pipeline.Clock, ids pipeline.IDGenerator) *Service {
	return &Service{blobs: blobs, meta: meta, hasher: hasher, clock: clock, ids: ids}
}

// Put captures one file. The SHA-256 of the raw bytes is the dedup key: on a
// hash hit the existing Artifact is returned untouched and only an attachment
// to the new crawl run is recorded. The second return reports whether the
// artifact already existed.
func (s *Service) Put(ctx context.Context, cap Capture) (pipeline.Artifact, bool, error) {
	if len(cap.Data) == 0 {
		return pipeline.Artifact{}, false, fmt.Errorf("artifact data is empty")
	}

	hash, err := s.hasher.Hash(cap.Data)
	if err != nil {
		return pipeline.Artifact{}, false, fmt.Errorf("hash artifact: %w", err)
	}

	existing, found, err := s.meta.GetByHash(ctx, hash)
	if err != nil {
		return pipeline.Artifact{}, false, fmt.Errorf("lookup artifact by hash: %w", err)
	}
	if found {
		metrics.ObserveArtifact(existing.MIMEType, true)
		if cap.CrawlRunID != "" && cap.CrawlRunID != existing.CrawlRunID {
			if err := s.meta.Attach(ctx, existing.ID, cap.CrawlRunID); err != nil {
				return pipeline.Artifact{}, false, fmt.Errorf("attach artifact to run: %w", err)
			}
		}
		return existing, true, nil
	}

	now := s.clock.Now()
	storagePath := s.storagePath(cap, now)
	uri, err := s.blobs.PutObject(ctx, storagePath, cap.MIMEType, bytes.NewReader(cap.Data))
	if err != nil {
		return pipeline.Artifact{}, false, fmt.Errorf("store artifact bytes: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.Artifact{}, false, fmt.Errorf("generate artifact id: %w", err)
	}
	art := pipeline.Artifact{
		ID:          id,
		CrawlRunID:  cap.CrawlRunID,
		StoragePath: storagePath,
		BlobURI:     uri,
		MIMEType:    cap.MIMEType,
		ByteSize:    int64(len(cap.Data)),
		ContentHash: hash,
		SourceURL:   cap.SourceURL,
		CreatedAt:   now,
	}
	if err := s.meta.Create(ctx, art); err != nil {
		return pipeline.Artifact{}, false, fmt.Errorf("persist artifact metadata: %w", err)
	}
	metrics.ObserveArtifact(cap.MIMEType, false)
	return art, false, nil
}

// Fetch loads the raw bytes of a captured artifact.
func (s *Service) Fetch(ctx context.Context, artifactID string) (pipeline.Artifact, []byte, error) {
	art, err := s.meta.GetByID(ctx, artifactID)
	if err != nil {
		return pipeline.Artifact{}, nil, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	data, err := s.blobs.GetObject(ctx, art.StoragePath)
	if err != nil {
		return pipeline.Artifact{}, nil, fmt.Errorf("load artifact bytes %s: %w", artifactID, err)
	}
	return art, data, nil
}

// storagePath is deterministic from the owning run, capture time, and
// filename so repeated captures land in predictable places independent of
// the content hash.
func (s *Service) storagePath(cap Capture, now time.Time) string {
	run := cap.CrawlRunID
	if run == "" {
		run = "adhoc"
	}
	name := sanitizeFilename(cap.Filename)
	if name == "" {
		name = "artifact.bin"
	}
	return path.Join(run, now.Format("20060102T150405Z"), name)
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
