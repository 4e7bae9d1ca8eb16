// Package cache keeps recently extracted module artifacts in memory.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/canonical/python-module-explorer/internal/metrics"
)

// Key identifies one module in one environment.
type Key struct {
	EnvID  string
	Module string
}

func (k Key) String() string {
	return k.EnvID + "\x00" + k.Module
}

// ErrNoStore, returned by a fetch, hands its value back to the caller
// without caching it.
var ErrNoStore = errors.New("cache: result not stored")

// Cache is an expiring LRU of one artifact kind ("attributes", "help").
// Concurrent misses for the same key share a single fetch.
type Cache[V any] struct {
	artifact   string
	lru        *lru.LRU[Key, V]
	group      singleflight.Group
	generation atomic.Uint64
	metrics    *metrics.Metrics
}

// New creates a cache holding at most size entries for ttl each. A
// non-positive size gets a minimum of 16 entries; a zero ttl never expires.
func New[V any](artifact string, size int, ttl time.Duration, m *metrics.Metrics) *Cache[V] {
	if size <= 0 {
		size = 16
	}
	return &Cache[V]{
		artifact: artifact,
		lru:      lru.NewLRU[Key, V](size, nil, ttl),
		metrics:  m,
	}
}

func (c *Cache[V]) Get(key Key) (V, bool) {
	return c.lru.Get(key)
}

func (c *Cache[V]) Add(key Key, value V) {
	c.lru.Add(key, value)
}

func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Do returns the cached value for key or calls fetch to produce it. Only
// successful results are stored. A fetch that overlaps an invalidation
// still returns its result but does not populate the cache.
func (c *Cache[V]) Do(ctx context.Context, key Key, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		c.metrics.CacheHit(c.artifact)
		return v, nil
	}
	c.metrics.CacheMiss(c.artifact)

	gen := c.generation.Load()
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := fetch(ctx)
		if errors.Is(err, ErrNoStore) {
			return v, nil
		}
		if err != nil {
			return v, err
		}
		if c.generation.Load() == gen {
			c.lru.Add(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	val, _ := v.(V)
	return val, nil
}

// Invalidate drops every entry of an environment.
func (c *Cache[V]) Invalidate(envID string) {
	c.generation.Add(1)
	for _, k := range c.lru.Keys() {
		if k.EnvID == envID {
			c.lru.Remove(k)
		}
	}
}

// Purge drops everything.
func (c *Cache[V]) Purge() {
	c.generation.Add(1)
	c.lru.Purge()
}
