package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// CrawlRunStore keeps crawl runs in a map.
type CrawlRunStore struct {
	mu   sync.RWMutex
	runs map[string]pipeline.CrawlRun
}

// NewCrawlRunStore constructs an empty CrawlRunStore.
func NewCrawlRunStore() *CrawlRunStore {
	return &CrawlRunStore{runs: make(map[string]pipeline.CrawlRun)}
}

// Create persists a new crawl run.
func (s *CrawlRunStore) Create(_ context.Context, run pipeline.CrawlRun) error {
	if run.ID == "" {
		return fmt.Errorf("crawl run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("crawl run %q already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// Update replaces the stored run.
func (s *CrawlRunStore) Update(_ context.Context, run pipeline.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("crawl run %q: %w", run.ID, pipeline.ErrNotFound)
	}
	s.runs[run.ID] = run
	return nil
}

// Get returns the run with the given ID.
func (s *CrawlRunStore) Get(_ context.Context, id string) (pipeline.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return pipeline.CrawlRun{}, fmt.Errorf("crawl run %q: %w", id, pipeline.ErrNotFound)
	}
	return run, nil
}
