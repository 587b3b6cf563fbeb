// Package rediscache backs the search query cache with Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config connects the cache to a Redis deployment.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Cache implements pipeline.QueryCache over Redis.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// NewCache connects and verifies the Redis deployment.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "menupipe:search:"
	}
	return &Cache{rdb: rdb, prefix: prefix}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

// Set stores the value under the key for the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
