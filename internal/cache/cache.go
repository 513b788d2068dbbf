// Package cache is a two-layer key-value cache: a small in-process map in
// front of an optional shared Redis. Both layers fail open; a cache outage
// degrades to recomputation, never to an error.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptopulse/internal/logger"
)

// localEntry is one in-process cache slot.
type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache layers an in-process TTL map over an optional shared Redis client.
type Cache struct {
	shared *redis.Client // nil when no REDIS_URL is configured

	mu    sync.Mutex
	local map[string]localEntry

	localHits  int64
	sharedHits int64
	misses     int64
}

// New builds a cache. redisURL may be empty; a bad URL is logged and the
// shared layer is simply skipped.
func New(redisURL string) *Cache {
	c := &Cache{local: make(map[string]localEntry)}
	if redisURL == "" {
		return c
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, running without shared cache", "error", err.Error())
		return c
	}
	c.shared = redis.NewClient(opts)
	return c
}

// Get returns a cached value, checking the in-process layer first. A shared
// hit is promoted into the local layer with the given local TTL. Shared-layer
// errors count as misses.
func (c *Cache) Get(ctx context.Context, key string, localTTL time.Duration) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.local[key]; ok {
		if time.Now().Before(e.expiresAt) {
			c.localHits++
			c.mu.Unlock()
			return e.value, true
		}
		delete(c.local, key)
	}
	c.mu.Unlock()

	if c.shared == nil {
		c.miss()
		return nil, false
	}
	val, err := c.shared.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Debug("shared cache read failed", "key", key, "error", err.Error())
		}
		c.miss()
		return nil, false
	}
	c.mu.Lock()
	c.sharedHits++
	c.local[key] = localEntry{value: val, expiresAt: time.Now().Add(localTTL)}
	c.mu.Unlock()
	return val, true
}

// Set writes both layers. Shared-layer failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value []byte, sharedTTL, localTTL time.Duration) {
	c.mu.Lock()
	c.local[key] = localEntry{value: value, expiresAt: time.Now().Add(localTTL)}
	if len(c.local) > 1024 {
		c.purgeExpiredLocked()
	}
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, value, sharedTTL).Err(); err != nil {
		logger.Debug("shared cache write failed", "key", key, "error", err.Error())
	}
}

// Delete drops a key from both layers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	if c.shared != nil {
		if err := c.shared.Del(ctx, key).Err(); err != nil {
			logger.Debug("shared cache delete failed", "key", key, "error", err.Error())
		}
	}
}

// PurgeExpired drops dead local entries and returns how many went. Redis
// expires its own keys.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked()
}

func (c *Cache) purgeExpiredLocked() int {
	now := time.Now()
	purged := 0
	for k, e := range c.local {
		if now.After(e.expiresAt) {
			delete(c.local, k)
			purged++
		}
	}
	return purged
}

// Stats is the cache telemetry payload.
type Stats struct {
	LocalEntries int   `json:"local_entries"`
	LocalHits    int64 `json:"local_hits"`
	SharedHits   int64 `json:"shared_hits"`
	Misses       int64 `json:"misses"`
	SharedLayer  bool  `json:"shared_layer"`
}

// GetStats snapshots hit counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		LocalEntries: len(c.local),
		LocalHits:    c.localHits,
		SharedHits:   c.sharedHits,
		Misses:       c.misses,
		SharedLayer:  c.shared != nil,
	}
}

// Ping checks the shared layer. A cache without a shared layer is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Ping(ctx).Err()
}

// Close releases the shared connection.
func (c *Cache) Close() error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Close()
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
