package cache

import (
	"container/list"
	"sync"

	"github.com/parrishsteve/splatcast/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded.
// The sandbox's compiled program cache runs on this strategy. Recency is a
// doubly linked list with the map pointing at list elements, so Get, Set,
// and eviction are all O(1).
type lruCache[V any] struct {
	mu      sync.RWMutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

func newLRUCache[V any](maxSize int, opts *cacheOptions[V]) (*lruCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newLRUCache", "metrics registration")
		}
	}

	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

// Get returns the value for key and promotes it to most recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return element.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.stats.Set()
		if c.metrics != nil {
			c.metrics.recordSet()
		}
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if len(c.items) > c.maxSize {
		c.evictOldest()
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.items))
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *lruEntry[V]

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	if c.evictFn != nil {
		entry := element.Value.(*lruEntry[V])
		evicted = &lruEntry[V]{key: entry.key, value: entry.value}
	}
	c.remove(element)

	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	// callback runs outside the lock so it may re-enter the cache
	if evicted != nil {
		c.evictFn(evicted.key, evicted.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	var evicted []lruEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		evicted = make([]lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evicted = append(evicted, *element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	c.mu.Unlock()

	for _, entry := range evicted {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the keys ordered most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// Close is a no-op; the LRU strategy runs no background goroutines.
func (c *lruCache[V]) Close() error {
	return nil
}

// evictOldest drops the entry at the back of the recency list. Caller holds
// the lock; the lock is released around the eviction callback.
func (c *lruCache[V]) evictOldest() {
	element := c.order.Back()
	if element == nil {
		return
	}

	var evicted *lruEntry[V]
	if c.evictFn != nil {
		entry := element.Value.(*lruEntry[V])
		evicted = &lruEntry[V]{key: entry.key, value: entry.value}
	}
	c.remove(element)

	c.stats.Eviction()
	if c.metrics != nil {
		c.metrics.recordEviction()
	}

	if evicted != nil {
		c.mu.Unlock()
		c.evictFn(evicted.key, evicted.value)
		c.mu.Lock()
	}
}

// remove unlinks an element from the list and map. Caller holds the lock.
func (c *lruCache[V]) remove(element *list.Element) {
	delete(c.items, element.Value.(*lruEntry[V]).key)
	c.order.Remove(element)
}
