/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

// Unbounded may be passed as maxEntries to create a cache that never evicts.
const Unbounded = 0

// LRUCache represents an LRU cache with Prometheus metrics.
type LRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU
	metrics MetricsCollector
}

// New creates a new LRUCache with the provided maximum number of entries and metrics collector.
// Metrics collector may be nil, in this case, metrics are disabled.
func New[K comparable, V any](maxEntries int, metrics MetricsCollector) (*LRUCache[K, V], error) {
	if maxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater or equal to 0 (unbounded), got %d", maxEntries)
	}
	if maxEntries == Unbounded {
		maxEntries = math.MaxInt32 // simplelru doesn't preallocate
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	lru, err := simplelru.NewLRU(maxEntries, nil)
	if err != nil {
		return nil, err
	}
	return &LRUCache[K, V]{lru: lru, metrics: metrics}, nil
}

// Get returns a value from the cache by the provided key and marks it as recently used.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// GetOrAdd returns a value from the cache by the provided key.
// If the key does not exist, the value returned by valueProvider is added,
// the least recently used entry is evicted when the cache is full.
// valueProvider is called under the cache lock and must be fast.
func (c *LRUCache[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, exists = c.get(key); exists {
		return value, true
	}
	value = valueProvider()
	if c.lru.Add(key, value) {
		c.metrics.AddEvictions(1)
	}
	c.metrics.SetAmount(c.lru.Len())
	return value, false
}

// Remove removes a value from the cache by the provided key.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lru.Remove(key) {
		return false
	}
	c.metrics.SetAmount(c.lru.Len())
	return true
}

// Purge clears the cache. Removed entries are not counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.metrics.SetAmount(0)
}

// Len returns the number of entries in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRUCache[K, V]) get(key K) (value V, ok bool) {
	v, hit := c.lru.Get(key)
	if !hit {
		c.metrics.IncMisses()
		return value, false
	}
	c.metrics.IncHits()
	return v.(V), true
}
