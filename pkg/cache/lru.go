// Package cache provides small bounded caches used across the engine: an LRU
// cache with recency eviction and a TTL cache whose entries expire a fixed
// duration after insertion. Both expose hit/miss counters so callers can
// report cache effectiveness without recomputing anything.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Len     int
	HitRate float64
}

// LRU is a fixed-capacity cache evicting the least-recently-used entry.
// Safe for concurrent use.
type LRU[K comparable, V any] struct {
	inner  *lru.Cache[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewLRU creates an LRU cache with the given capacity.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{inner: inner}, nil
}

// Get returns the value for key and promotes it to most-recently-used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores the value, evicting the least-recently-used entry when full.
// Reports whether an eviction occurred.
func (c *LRU[K, V]) Set(key K, value V) bool {
	return c.inner.Add(key, value)
}

// Remove drops the entry for key, if present.
func (c *LRU[K, V]) Remove(key K) bool {
	return c.inner.Remove(key)
}

// Purge drops every entry. Counters are kept.
func (c *LRU[K, V]) Purge() {
	c.inner.Purge()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return c.inner.Len()
}

// Stats returns hit/miss counters and the current hit rate.
func (c *LRU[K, V]) Stats() Stats {
	return snapshot(c.hits.Load(), c.misses.Load(), c.inner.Len())
}

func snapshot(hits, misses uint64, length int) Stats {
	s := Stats{Hits: hits, Misses: misses, Len: length}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
