// Package ratelimit throttles credential attempts (login, signup, password reset)
// per key in fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "shelflife:attempts"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

type counter interface {
	incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// FixedWindowLimiter allows at most limit attempts per key in each window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	store  counter
	redis  *redis.Client
}

func newLimiter(limit int, window time.Duration, prefix string, store counter) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{limit: limit, window: window, prefix: prefix, now: time.Now, store: store}, nil
}

// NewRedisFixedWindowLimiter shares attempt counts through Redis so that every
// client process on the machine sees the same budget. Redis errors deny the attempt.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	l, err := newLimiter(limit, window, prefix, redisCounter{client: client})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	l.redis = client
	return l, nil
}

// NewMemoryFixedWindowLimiter keeps counts in process.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*FixedWindowLimiter, error) {
	return newLimiter(limit, window, "", &memoryCounter{entries: make(map[string]memoryEntry)})
}

// Allow reports whether key is still within quota and counts the attempt.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true
	}
	now := l.now().UTC()
	slot := now.UnixMilli() / windowMs
	storeKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := l.store.incr(ctx, storeKey, l.window, now)
	if err != nil {
		slog.Warn("attempt limiter unavailable", "key", key, "err", err)
		return false
	}
	return count <= int64(l.limit)
}

// Close releases the Redis connection, if any.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Close()
}

type redisCounter struct {
	client *redis.Client
}

func (c redisCounter) incr(ctx context.Context, key string, window time.Duration, _ time.Time) (int64, error) {
	return fixedWindowScript.Run(ctx, c.client, []string{key}, window.Milliseconds()).Int64()
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

type memoryCounter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// incr expires entries against the limiter clock, not wall time.
func (c *memoryCounter) incr(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	e := c.entries[key]
	if e.count == 0 {
		e.expiresAt = now.Add(window)
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}
