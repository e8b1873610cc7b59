package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parrishsteve/splatcast/errors"
)

type hybridEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *hybridEntry[V]) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// hybridCache layers a TTL on top of LRU capacity eviction: an entry leaves
// when it expires or when it is the oldest entry in a full cache, whichever
// happens first.
type hybridCache[V any] struct {
	mu            sync.RWMutex
	maxSize       int
	ttl           time.Duration
	sweepInterval time.Duration
	items         map[string]*list.Element
	order         *list.List // front is most recently used
	stats         *Statistics
	metrics       *cacheMetrics
	evictFn       EvictCallback[V]
	statsInterval time.Duration

	shutdown chan struct{}
	done     chan struct{}
}

func newHybridCache[V any](
	ctx context.Context, maxSize int, ttl, sweepInterval time.Duration, opts *cacheOptions[V],
) (*hybridCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newHybridCache", "metrics registration")
		}
	}

	c := &hybridCache[V]{
		maxSize:       maxSize,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		stats:         NewStatistics(),
		metrics:       metrics,
		evictFn:       opts.evictCallback,
		statsInterval: opts.statsInterval,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go c.sweep(ctx)

	return c, nil
}

// Get returns the live value for key, promoting it to most recently used.
// An expired entry is removed on the spot and reads as a miss.
func (c *hybridCache[V]) Get(key string) (V, bool) {
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

	entry := element.Value.(*hybridEntry[V])
	if entry.isExpired() {
		c.unlink(element)
		c.stats.Eviction()
		c.stats.Miss()
		c.stats.UpdateSize(int64(len(c.items)))
		if c.metrics != nil {
			c.metrics.recordEviction()
			c.metrics.recordMiss()
			c.metrics.updateSize(len(c.items))
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores value under key with a fresh TTL, promoting it to most
// recently used. A full cache evicts its oldest entry first.
func (c *hybridCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	expiresAt := time.Now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		entry := element.Value.(*hybridEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)

		c.stats.Set()
		if c.metrics != nil {
			c.metrics.recordSet()
		}
		return false, nil
	}

	c.items[key] = c.order.PushFront(&hybridEntry[V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
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

func (c *hybridCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false, nil
	}

	c.unlink(element)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.items))
	}
	return true, nil
}

func (c *hybridCache[V]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			entry := element.Value.(*hybridEntry[V])
			c.evictFn(entry.key, entry.value)
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	return nil
}

func (c *hybridCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns live keys ordered most recently used first.
func (c *hybridCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*hybridEntry[V])
		if now.Before(entry.expiresAt) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

func (c *hybridCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the sweep goroutine and waits for it to exit.
func (c *hybridCache[V]) Close() error {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

// evictOldest drops the entry at the back of the recency list. Caller holds
// the lock.
func (c *hybridCache[V]) evictOldest() {
	if element := c.order.Back(); element != nil {
		c.unlink(element)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
}

// unlink removes an element from the list and map. Caller holds the lock,
// so the eviction callback must not re-enter the cache.
func (c *hybridCache[V]) unlink(element *list.Element) {
	entry := element.Value.(*hybridEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)

	if c.evictFn != nil {
		defer c.evictFn(entry.key, entry.value)
	}
}

func (c *hybridCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *hybridCache[V]) removeExpired() {
	now := time.Now()
	var expired []*hybridEntry[V]

	c.mu.Lock()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*hybridEntry[V])
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			delete(c.items, entry.key)
			c.order.Remove(element)
		}
		element = next
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}

	for range expired {
		c.stats.Eviction()
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		for range expired {
			c.metrics.recordEviction()
		}
		c.metrics.updateSize(size)
	}
}
