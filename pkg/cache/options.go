package cache

import (
	"time"

	"github.com/parrishsteve/splatcast/metric"
)

// Option adjusts optional cache behavior at construction time.
type Option[V any] func(*cacheOptions[V])

// cacheOptions is the resolved option set a constructor works from.
// Statistics are always collected; Prometheus export is opt-in.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	statsInterval time.Duration
}

// WithMetrics exports the cache's counters as Prometheus metrics under the
// given prefix. A nil registry or empty prefix leaves export disabled.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback registers a function invoked with the key and value
// of every entry the cache removes on its own.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithStatsInterval sets the aggregate-statistics refresh period for caches
// with a background sweep. Non-positive intervals are ignored.
func WithStatsInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 {
			opts.statsInterval = interval
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		statsInterval: 30 * time.Second,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
