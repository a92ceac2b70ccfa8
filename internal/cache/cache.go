// Package cache memoizes upstream responses for a fixed time-to-live.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL matches the master server's minimum update interval.
const DefaultTTL = 7*time.Minute + 30*time.Second

// entry is never mutated after creation; refreshes replace it.
type entry struct {
	fetchedAt time.Time
	value     any
}

// Cache is a keyed, TTL-bounded response store shared by all upstream callers.
// Eviction is TTL-based only; the key space is bounded by games times query shapes.
type Cache struct {
	entries map[string]entry
	now     func() time.Time
	group   singleflight.Group
	ttl     time.Duration
	mu      sync.RWMutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache whose entries live for ttl unless a call overrides it.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		ttl:     ttl,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TTL returns the default time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrFetch returns the value stored under key while it is younger than ttl.
// Otherwise it calls fetch, stores the result and returns it. A failed fetch leaves
// any previous entry in place and its error goes to the caller only.
// Concurrent misses on the same key share a single fetch. The shared fetch runs
// detached from the cancellation of whichever caller started it; a caller whose
// ctx ends stops waiting with ctx.Err() while the others keep their result.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (any, error)) (any, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	if v, ok := c.lookup(key, ttl); ok {
		log.Trace().Str("key", key).Msg("Cache hit")
		return v, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lookup(key, ttl); ok {
			return v, nil
		}

		value, err := fetch(detached)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{value: value, fetchedAt: c.now()}
		c.mu.Unlock()

		return value, nil
	})

	select {
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Str("key", key).Msg("Cache wait abandoned")
		return nil, ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			log.Debug().Err(res.Err).Str("key", key).Msg("Cache refresh failed")
			return nil, res.Err
		}

		log.Trace().Str("key", key).Bool("shared", res.Shared).Msg("Cache refreshed")
		return res.Val, nil
	}
}

// Fetch is the typed form of GetOrFetch.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	v, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T, want %T", key, v, zero)
	}

	return typed, nil
}

// Clear removes the entry for key, or every entry when key is empty.
// It reports how many entries were dropped.
func (c *Cache) Clear(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		n := len(c.entries)
		c.entries = make(map[string]entry)
		log.Info().Int("entries", n).Msg("Cleared all cache")
		return n
	}

	if _, ok := c.entries[key]; !ok {
		return 0
	}
	delete(c.entries, key)
	log.Info().Str("key", key).Msg("Cleared cache key")

	return 1
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache) lookup(key string, ttl time.Duration) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.fetchedAt) >= ttl {
		return nil, false
	}

	return e.value, true
}

// Key joins key parts with underscores.
func Key(parts ...string) string {
	return strings.Join(parts, "_")
}

// HashKey builds a compact key for a canonical query string.
func HashKey(prefix, canonical string) string {
	return prefix + "_" + strconv.FormatUint(xxhash.Sum64String(canonical), 16)
}
