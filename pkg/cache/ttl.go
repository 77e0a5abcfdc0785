package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is a size-bounded cache whose entries expire a fixed duration after
// insertion. Reads do not extend an entry's lifetime. When the cache is over
// capacity the stalest entry is evicted. Safe for concurrent use.
type TTL[K comparable, V any] struct {
	inner  *expirable.LRU[K, V]
	ttl    time.Duration
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTTL creates a TTL cache holding at most capacity entries, each living
// for ttl after insertion.
func NewTTL[K comparable, V any](capacity int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		inner: expirable.NewLRU[K, V](capacity, nil, ttl),
		ttl:   ttl,
	}
}

// Get returns the value for key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores the value with the cache's expiry. Reports whether an entry was
// evicted to make room.
func (c *TTL[K, V]) Set(key K, value V) bool {
	return c.inner.Add(key, value)
}

// Remove drops the entry for key, if present.
func (c *TTL[K, V]) Remove(key K) bool {
	return c.inner.Remove(key)
}

// Purge drops every entry. Counters are kept.
func (c *TTL[K, V]) Purge() {
	c.inner.Purge()
}

// Len returns the number of entries, expired ones included until the next
// internal sweep.
func (c *TTL[K, V]) Len() int {
	return c.inner.Len()
}

// TTLValue returns the configured entry lifetime.
func (c *TTL[K, V]) TTLValue() time.Duration {
	return c.ttl
}

// Stats returns hit/miss counters and the current hit rate.
func (c *TTL[K, V]) Stats() Stats {
	return snapshot(c.hits.Load(), c.misses.Load(), c.inner.Len())
}
