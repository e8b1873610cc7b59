// Package idempotency deduplicates publishes that carry an idempotency key.
// A replayed key within the retention window returns the original publish
// result without touching the broker. Entries expire lazily on read and are
// swept in the background by the TTL cache.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/metric"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/pkg/cache"
)

// DefaultTTL is the retention window for publish results.
const DefaultTTL = 24 * time.Hour

// Cache stores publish results keyed by (app, topic, idempotency key).
// Keys are scoped per topic: the same client key on two topics is two
// independent entries.
type Cache struct {
	entries cache.Cache[*model.PublishResponse]
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an idempotency cache from a cache configuration. The strategy
// is expected to be ttl or hybrid; a disabled config yields a cache that
// never deduplicates.
func New(ctx context.Context, cfg cache.Config, registry *metric.MetricsRegistry, opts ...Option) (*Cache, error) {
	var cacheOpts []cache.Option[*model.PublishResponse]
	if registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[*model.PublishResponse](registry, "idempotency"))
	}
	entries, err := cache.NewFromConfig(ctx, cfg, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Cache", "New", "idempotency cache creation")
	}

	c := &Cache{
		entries: entries,
		logger:  slog.Default().With("component", "idempotency"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithTTL is a convenience constructor for the common TTL-only setup.
func NewWithTTL(ctx context.Context, ttl time.Duration, opts ...Option) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cfg := cache.Config{
		Enabled:         true,
		Strategy:        cache.StrategyTTL,
		TTL:             ttl,
		CleanupInterval: ttl / 24,
	}
	if cfg.CleanupInterval < time.Minute {
		cfg.CleanupInterval = time.Minute
	}
	return New(ctx, cfg, nil, opts...)
}

// Lookup returns the cached result for a key, if any. An expired entry
// reads as absent.
func (c *Cache) Lookup(appID, topicID int64, key string) (*model.PublishResponse, bool) {
	if key == "" {
		return nil, false
	}
	resp, found := c.entries.Get(entryKey(appID, topicID, key))
	return resp, found
}

// Store records a successful publish result under its idempotency key.
// Failed publishes are never stored so clients can retry the same key.
func (c *Cache) Store(appID, topicID int64, key string, resp *model.PublishResponse) {
	if key == "" || resp == nil {
		return
	}
	if _, err := c.entries.Set(entryKey(appID, topicID, key), resp); err != nil {
		c.logger.Warn("idempotency cache write failed",
			"app_id", appID, "topic_id", topicID, "error", err)
	}
}

// Size reports the number of live entries.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// Close stops the background sweeper.
func (c *Cache) Close() error {
	return c.entries.Close()
}

func entryKey(appID, topicID int64, key string) string {
	return fmt.Sprintf("%d:%d:%s", appID, topicID, key)
}
