// Package memory provides an exact-cosine in-process vector index, used in
// tests and single-node deployments.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Index holds item vectors in a map and scans them all per query.
type Index struct {
	mu      sync.RWMutex
	entries map[string]pipeline.VectorEntry
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]pipeline.VectorEntry)}
}

// Upsert inserts or replaces the given entries.
func (idx *Index) Upsert(_ context.Context, entries []pipeline.VectorEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		idx.entries[e.ItemID] = e
	}
	return nil
}

// Delete removes the given items, ignoring unknown IDs.
func (idx *Index) Delete(_ context.Context, itemIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range itemIDs {
		delete(idx.entries, id)
	}
	return nil
}

// Search scans every entry and returns the topK by cosine similarity,
// descending. Ties break on item ID for determinism.
func (idx *Index) Search(_ context.Context, vector []float32, topK int) ([]pipeline.VectorMatch, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]pipeline.VectorMatch, 0, len(idx.entries))
	for _, e := range idx.entries {
		matches = append(matches, pipeline.VectorMatch{
			ItemID:     e.ItemID,
			PlaceID:    e.PlaceID,
			Similarity: cosine(vector, e.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ItemID < matches[j].ItemID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports the number of indexed items.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
