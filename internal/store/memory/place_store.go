package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// PlaceStore keeps places in a map.
type PlaceStore struct {
	mu     sync.RWMutex
	places map[string]pipeline.Place
}

// NewPlaceStore constructs an empty PlaceStore.
func NewPlaceStore() *PlaceStore {
	return &PlaceStore{places: make(map[string]pipeline.Place)}
}

// Get returns the place with the given ID.
func (s *PlaceStore) Get(_ context.Context, id string) (pipeline.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.places[id]
	if !ok {
		return pipeline.Place{}, fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
	}
	return p, nil
}

// Create persists a new place.
func (s *PlaceStore) Create(_ context.Context, place pipeline.Place) error {
	if place.ID == "" {
		return fmt.Errorf("place id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.places[place.ID]; exists {
		return fmt.Errorf("place %q already exists", place.ID)
	}
	s.places[place.ID] = place
	return nil
}

// UpdateScore writes the current score, algorithm version, and breakdown.
// A nil score clears the stored value (no scorable items).
func (s *PlaceStore) UpdateScore(_ context.Context, id string, score *int, version string, detail []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[id]
	if !ok {
		return fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
	}
	p.Score = score
	p.ScoreVersion = version
	p.ScoreDetail = json.RawMessage(detail)
	p.UpdatedAt = time.Now().UTC()
	s.places[id] = p
	return nil
}

// MarkCrawled records the completion time of the latest crawl.
func (s *PlaceStore) MarkCrawled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[id]
	if !ok {
		return fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
	}
	p.LastCrawled = &at
	p.UpdatedAt = at
	s.places[id] = p
	return nil
}

// List returns all places ordered by ID.
func (s *PlaceStore) List(_ context.Context) ([]pipeline.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Place, 0, len(s.places))
	for _, p := range s.places {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
