package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds submission throughput per key. The key is the normalized
// submitter address when one is present, else the client IP.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NewLimiter returns a Redis-backed limiter when a client is given, else an
// in-memory sliding window. Both enforce max requests per window.
func NewLimiter(rdb *redis.Client, max int, window time.Duration) Limiter {
	if rdb != nil {
		return &redisLimiter{rdb: rdb, max: max, window: window}
	}
	return &memoryLimiter{
		requests: make(map[string][]time.Time),
		max:      max,
		window:   window,
	}
}

// redisLimiter counts requests per key in a fixed window. Redis keeps the
// count shared across replicas; a Redis failure fails open so a cache outage
// cannot take submissions down with it.
type redisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

// rateLimitScript increments the counter and arms its expiry in one atomic
// step. A separate INCR-then-EXPIRE could lose the EXPIRE and leave the key,
// and its count, behind forever.
var rateLimitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

func (l *redisLimiter) Allow(ctx context.Context, key string) bool {
	rkey := fmt.Sprintf("ratelimit:%s", key)

	n, err := rateLimitScript.Run(ctx, l.rdb, []string{rkey}, l.window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("rate limiter redis error, allowing request: %v", err)
		return true
	}
	return n <= int64(l.max)
}

// memoryLimiter is a per-process sliding window. Keys whose windows have
// fully drained are swept out periodically so rotating keys cannot grow the
// map without bound.
type memoryLimiter struct {
	requests  map[string][]time.Time
	mu        sync.Mutex
	max       int
	window    time.Duration
	lastSweep time.Time
}

func (l *memoryLimiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	valid := l.requests[key][:0]
	for _, t := range l.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.max {
		l.requests[key] = valid
		return false
	}

	l.requests[key] = append(valid, now)
	return true
}

// sweep drops every key with no requests inside the window. Caller holds mu.
func (l *memoryLimiter) sweep(cutoff time.Time) {
	for key, times := range l.requests {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.requests, key)
		}
	}
}
