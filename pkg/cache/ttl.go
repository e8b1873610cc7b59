package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parrishsteve/splatcast/errors"
)

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *ttlEntry[V]) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// ttlCache expires entries after a fixed duration. Expiry is enforced both
// lazily on Get and by a background sweep, so an entry past its deadline is
// never observable even between sweeps. The idempotency store runs on this
// strategy.
type ttlCache[V any] struct {
	mu            sync.RWMutex
	ttl           time.Duration
	sweepInterval time.Duration
	items         map[string]*ttlEntry[V]
	stats         *Statistics
	metrics       *cacheMetrics
	evictFn       EvictCallback[V]
	statsInterval time.Duration

	shutdown chan struct{}
	done     chan struct{}
}

func newTTLCache[V any](
	ctx context.Context, ttl, sweepInterval time.Duration, opts *cacheOptions[V],
) (*ttlCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newTTLCache", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		items:         make(map[string]*ttlEntry[V]),
		stats:         NewStatistics(),
		metrics:       metrics,
		evictFn:       opts.evictCallback,
		statsInterval: opts.statsInterval,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	// the caller's context bounds the sweep goroutine alongside Close
	go c.sweep(ctx)

	return c, nil
}

// Get returns the live value for key. An expired entry is removed on the
// spot and reads as a miss.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.miss()
		var zero V
		return zero, false
	}

	if entry.isExpired() {
		c.mu.Lock()
		// re-check under the write lock; a sweep or Set may have won
		if current, still := c.items[key]; still && current.isExpired() {
			delete(c.items, key)
			if c.evictFn != nil {
				defer c.evictFn(key, current.value)
			}
			c.stats.Eviction()
			c.stats.UpdateSize(int64(len(c.items)))
			if c.metrics != nil {
				c.metrics.recordEviction()
				c.metrics.updateSize(len(c.items))
			}
		}
		c.mu.Unlock()

		c.miss()
		var zero V
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

func (c *ttlCache[V]) miss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// Set stores value under key with a fresh TTL. Overwriting restarts the
// expiry clock.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, existed := c.items[key]
	c.items[key] = &ttlEntry[V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
	return !existed, nil
}

func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, existed := c.items[key]
	if existed {
		delete(c.items, key)
		if c.evictFn != nil {
			defer c.evictFn(key, entry.value)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if existed {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.recordDelete()
			c.metrics.updateSize(size)
		}
	}
	return existed, nil
}

func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	if c.evictFn != nil {
		for _, entry := range c.items {
			c.evictFn(entry.key, entry.value)
		}
	}
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	return nil
}

// Size counts stored entries, including any expired ones the sweep has not
// reached yet.
func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys lists only keys that are still live at call time.
func (c *ttlCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if now.Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the sweep goroutine and waits for it to exit.
func (c *ttlCache[V]) Close() error {
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

func (c *ttlCache[V]) sweep(ctx context.Context) {
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

func (c *ttlCache[V]) removeExpired() {
	now := time.Now()
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
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
