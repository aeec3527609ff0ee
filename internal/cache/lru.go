// Package cache provides a bounded LRU cache for materialized session data.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// LRU is a bounded mapping from string keys to values of type V with
// least-recently-used eviction. All methods are safe for concurrent use.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
}

type entry[V any] struct {
	key     string
	value   V
	touched time.Time
}

// Stats describes cache occupancy and effectiveness since creation.
type Stats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
}

// New creates an LRU cache holding at most capacity entries. A
// non-positive capacity is treated as one entry.
func New[V any](capacity int) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the value for key and marks it most-recently-used. The
// second return is false if the key is absent or was evicted.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	c.order.MoveToFront(el)
	ent := el.Value.(*entry[V])
	ent.touched = time.Now()
	return ent.value, true
}

// Set inserts or updates key and marks it most-recently-used, evicting
// the least-recently-used entry if capacity is exceeded.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		ent := el.Value.(*entry[V])
		ent.value = value
		ent.touched = time.Now()
		return
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, touched: time.Now()})
	c.items[key] = el

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *LRU[V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
	c.evictions++
}

// Delete removes key if present, reporting whether it existed.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Clear empties the cache. Hit/miss counters are preserved.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of cached entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the cached keys from most to least recently used.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

// EvictOlderThan removes entries whose last touch is older than maxAge,
// returning the count removed. Used for periodic hygiene independent of
// capacity pressure.
func (c *LRU[V]) EvictOlderThan(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		ent := el.Value.(*entry[V])
		if ent.touched.Before(cutoff) {
			c.order.Remove(el)
			delete(c.items, ent.key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// GetStats returns occupancy and cumulative hit-rate statistics.
func (c *LRU[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   rate,
		Evictions: c.evictions,
	}
}

// ResetStats zeroes the hit/miss/eviction counters.
func (c *LRU[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// EstimateMemoryUsage approximates the cache's footprint in bytes by
// JSON-serializing each value. It is an observability aid, not an
// accounting one; unserializable values count only their key.
func (c *LRU[V]) EstimateMemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for el := c.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry[V])
		total += int64(len(ent.key))
		if data, err := json.Marshal(ent.value); err == nil {
			total += int64(len(data))
		}
	}
	return total
}
