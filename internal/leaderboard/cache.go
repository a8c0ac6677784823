package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKey = "leaderboard:top"
	cacheTTL = 10 * time.Second
)

// Cache holds the current top window in Redis so leaderboard reads do not hit
// Postgres on every request. A nil *Cache disables caching; every method is
// nil-safe. Cache contents are advisory: the short TTL plus invalidation on
// insert keeps reads close to the store without making correctness depend on
// Redis.
type Cache struct {
	rdb *redis.Client
}

// NewCache creates a leaderboard cache on an existing Redis client. A nil
// client yields a nil, disabled cache.
func NewCache(rdb *redis.Client) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{rdb: rdb}
}

// Get returns the cached top window, if present
func (c *Cache) Get(ctx context.Context) ([]Entry, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// Set stores the top window
func (c *Cache) Set(ctx context.Context, entries []Entry) {
	if c == nil {
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, cacheKey, data, cacheTTL)
}

// Invalidate drops the cached window
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, cacheKey)
}
