// Package cache provides a fixed-capacity LRU used in front of the block store.
//
// The graph engine keeps deserialized nodes and relationships here keyed by
// their CIDs, so repeated reads avoid block fetches and JSON decoding.
// Eviction is strictly least-recently-used; both Get and Put refresh a key's
// recency.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a thread-safe fixed-capacity least-recently-used cache.
//
// A Get on a missing key returns the zero value and false; it never errors.
// Capacity is fixed at construction.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	core *lru.Cache[K, V]

	hits   int64
	misses int64
}

// New creates an LRU with the given capacity. Capacity below 1 is raised to 1.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	// lru.New only errors on non-positive size, which we just excluded.
	core, _ := lru.New[K, V](capacity)
	return &LRU[K, V]{core: core}
}

// Get returns the cached value and refreshes its recency.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.core.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores value under key, evicting the least-recently-used entry when
// over capacity. Updating an existing key moves it to most-recent.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.core.Add(key, value)
}

// Remove drops key from the cache if present.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.core.Remove(key)
}

// Clear drops every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.core.Purge()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core.Len()
}

// Stats returns hit/miss counters since construction.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
