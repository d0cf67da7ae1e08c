// Package cache provides a generic, thread-safe LRU cache used to memoise
// compiled rule artifacts (regular expressions, FHIRPath expressions)
// across rule set loads.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a generic thread-safe least-recently-used cache.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List
	capacity int

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type item[K comparable, V any] struct {
	key   K
	value V
}

// New creates an LRU holding at most capacity items (100 if capacity <= 0).
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &LRU[K, V]{
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(el)
	return el.Value.(*item[K, V]).value, true
}

// Set adds or replaces key, evicting the least recently used item when full.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *LRU[K, V]) setLocked(key K, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*item[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}
	if len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*item[K, V]).key)
			c.order.Remove(oldest)
			c.evicts.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&item[K, V]{key: key, value: value})
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Errors are returned to the caller and never cached.
//
// load runs without the lock held, so concurrent callers may load the same
// key more than once; the last successful load wins.
func (c *LRU[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Len returns the number of cached items.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes every item.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	HitRate  float64
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	size := c.Len()
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		HitRate:  rate,
	}
}
