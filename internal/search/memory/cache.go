package memory

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// Cache is an in-process query cache with per-entry TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns the cached value and whether a live entry was present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores the value under the key for the given TTL.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}
