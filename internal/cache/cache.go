package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the time-to-live for cached enrichment results
	DefaultTTL = 24 * time.Hour
	// KeyPrefix is the prefix for all cache keys
	KeyPrefix = "nomnom:enrich:"
)

// Cache stores enrichment results in Redis keyed by a provider ID
// (the YouTube video ID for the YouTube enricher)
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a cache backed by the Redis server at redisAddr
func New(redisAddr string, ttl time.Duration) *Cache {
	return newWithClient(redis.NewClient(&redis.Options{Addr: redisAddr}), ttl)
}

func newWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// makeKey creates a Redis key from a provider ID
func makeKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("empty cache key")
	}
	return KeyPrefix + id, nil
}

// Get decodes the cached value for id into dest.
// Returns false without error on a cache miss.
func (c *Cache) Get(ctx context.Context, id string, dest interface{}) (bool, error) {
	key, err := makeKey(id)
	if err != nil {
		return false, err
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		// A corrupt entry is treated as a miss and evicted
		if evictErr := c.evict(ctx, key); evictErr != nil {
			err = errors.Join(err, evictErr)
		}
		return false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return true, nil
}

// Set stores value for id with the configured TTL
func (c *Cache) Set(ctx context.Context, id string, value interface{}) error {
	key, err := makeKey(id)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (c *Cache) evict(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if the Redis connection is alive
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
