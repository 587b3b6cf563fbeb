// Package memory implements an in-memory blob store for development/testing.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// BlobStore keeps objects in a map.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject stores the bytes under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = body
	return "mem://" + path, nil
}

// GetObject returns a copy of the stored bytes.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", path, pipeline.ErrNotFound)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// Len reports the number of stored objects (test helper).
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
