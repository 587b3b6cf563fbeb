// Package memory provides in-memory domain stores for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// ArtifactStore keeps artifact metadata in maps keyed by ID and content hash.
type ArtifactStore struct {
	mu          sync.RWMutex
	byID        map[string]pipeline.Artifact
	byHash      map[string]string
	attachments map[string][]string
}

// NewArtifactStore constructs an empty ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		byID:        make(map[string]pipeline.Artifact),
		byHash:      make(map[string]string),
		attachments: make(map[string][]string),
	}
}

// GetByHash returns the artifact with the given content hash, if any.
func (s *ArtifactStore) GetByHash(_ context.Context, hash string) (pipeline.Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return pipeline.Artifact{}, false, nil
	}
	return s.byID[id], true, nil
}

// GetByID returns the artifact with the given ID.
func (s *ArtifactStore) GetByID(_ context.Context, id string) (pipeline.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.byID[id]
	if !ok {
		return pipeline.Artifact{}, fmt.Errorf("artifact %q: %w", id, pipeline.ErrNotFound)
	}
	return art, nil
}

// Create persists new artifact metadata; the content hash must be unused.
func (s *ArtifactStore) Create(_ context.Context, artifact pipeline.Artifact) error {
	if artifact.ID == "" || artifact.ContentHash == "" {
		return fmt.Errorf("artifact id and content hash are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[artifact.ContentHash]; exists {
		return fmt.Errorf("artifact with hash %q already exists", artifact.ContentHash)
	}
	s.byID[artifact.ID] = artifact
	s.byHash[artifact.ContentHash] = artifact.ID
	return nil
}

// Attach links an existing artifact to an additional crawl run.
func (s *ArtifactStore) Attach(_ context.Context, artifactID, crawlRunID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[artifactID]; !ok {
		return fmt.Errorf("artifact %q: %w", artifactID, pipeline.ErrNotFound)
	}
	s.attachments[artifactID] = append(s.attachments[artifactID], crawlRunID)
	return nil
}

// Attachments lists the crawl runs an artifact was re-linked to (test helper).
func (s *ArtifactStore) Attachments(artifactID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.attachments[artifactID]))
	copy(out, s.attachments[artifactID])
	return out
}
