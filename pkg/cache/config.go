package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parrishsteve/splatcast/errors"
)

// Strategy selects how a cache evicts entries.
type Strategy string

const (
	// StrategySimple never evicts.
	StrategySimple Strategy = "simple"

	// StrategyLRU evicts the least recently used entry when full.
	StrategyLRU Strategy = "lru"

	// StrategyTTL evicts entries once they expire.
	StrategyTTL Strategy = "ttl"

	// StrategyHybrid combines LRU capacity eviction with TTL expiry.
	StrategyHybrid Strategy = "hybrid"
)

// Config describes a cache for NewFromConfig. Duration fields accept
// strings like "5m" as well as integer nanoseconds in JSON.
type Config struct {
	// Enabled set to false yields a no-op cache that always misses.
	Enabled bool `json:"enabled"`

	// Strategy selects the eviction policy.
	Strategy Strategy `json:"strategy"`

	// MaxSize bounds the entry count for LRU and hybrid caches.
	MaxSize int `json:"max_size"`

	// TTL is the entry lifetime for TTL and hybrid caches.
	TTL time.Duration `json:"ttl"`

	// CleanupInterval is the background sweep period for TTL and hybrid caches.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// StatsInterval is the aggregate-statistics refresh period.
	StatsInterval time.Duration `json:"stats_interval"`
}

// DefaultConfig returns an enabled LRU cache of 1000 entries.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Strategy:        StrategyLRU,
		MaxSize:         1000,
		TTL:             5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		StatsInterval:   30 * time.Second,
	}
}

// Validate checks the fields the selected strategy actually uses.
// A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	needSize := c.Strategy == StrategyLRU || c.Strategy == StrategyHybrid
	needTTL := c.Strategy == StrategyTTL || c.Strategy == StrategyHybrid

	switch c.Strategy {
	case StrategySimple, StrategyLRU, StrategyTTL, StrategyHybrid:
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("unknown cache strategy: %s", c.Strategy))
	}

	if needSize && c.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("max_size must be positive for %s cache, got %d", c.Strategy, c.MaxSize))
	}
	if needTTL {
		if c.TTL <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
				fmt.Sprintf("ttl must be positive for %s cache, got %v", c.Strategy, c.TTL))
		}
		if c.CleanupInterval <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
				fmt.Sprintf("cleanup_interval must be positive for %s cache, got %v", c.Strategy, c.CleanupInterval))
		}
	}

	if c.StatsInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("stats_interval must be positive when specified, got %v", c.StatsInterval))
	}

	return nil
}

// NewFromConfig builds a cache for the configured strategy. A disabled
// config yields NewNoop. Functional options apply on top of the config.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}

	if !config.Enabled {
		return NewNoop[V](), nil
	}

	if config.StatsInterval > 0 {
		options = append(options, WithStatsInterval[V](config.StatsInterval))
	}

	switch config.Strategy {
	case StrategySimple:
		return NewSimple[V](options...)

	case StrategyLRU:
		return NewLRU[V](config.MaxSize, options...)

	case StrategyTTL:
		return NewTTL[V](ctx, config.TTL, config.CleanupInterval, options...)

	case StrategyHybrid:
		return newHybrid[V](ctx, config.MaxSize, config.TTL, config.CleanupInterval, options...)

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "cache", "NewFromConfig",
			fmt.Sprintf("unsupported cache strategy: %s", config.Strategy))
	}
}

// NewLRU returns a size-bounded cache that evicts the least recently
// used entry when full.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	return newLRUCache[V](maxSize, applyOptions(options...))
}

// NewTTL returns a cache whose entries expire after ttl. A background
// goroutine sweeps expired entries every cleanupInterval; it stops when
// ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	return newTTLCache[V](ctx, ttl, cleanupInterval, applyOptions(options...))
}

// newHybrid combines LRU capacity eviction with TTL expiry. Reached via
// NewFromConfig with StrategyHybrid.
func newHybrid[V any](
	ctx context.Context, maxSize int, ttl, cleanupInterval time.Duration,
	options ...Option[V],
) (Cache[V], error) {
	return newHybridCache[V](ctx, maxSize, ttl, cleanupInterval, applyOptions(options...))
}

// NewSimple returns an unbounded cache with no eviction.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache[V](applyOptions(options...))
}

// NewNoop returns a cache that stores nothing and always misses, used
// when caching is disabled by configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)   { return false, nil }
func (c *noopCache[V]) Clear() error                    { return nil }
func (c *noopCache[V]) Size() int                       { return 0 }
func (c *noopCache[V]) Keys() []string                  { return nil }
func (c *noopCache[V]) Stats() *Statistics              { return nil }
func (c *noopCache[V]) Close() error                    { return nil }

// UnmarshalJSON accepts the duration fields as either strings ("5m",
// "30s") or integer nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config

	aux := &struct {
		TTL             json.RawMessage `json:"ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		StatsInterval   json.RawMessage `json:"stats_interval,omitempty"`
		*plain
	}{
		plain: (*plain)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.TTL, "ttl", &c.TTL},
		{aux.CleanupInterval, "cleanup_interval", &c.CleanupInterval},
		{aux.StatsInterval, "stats_interval", &c.StatsInterval},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		d, err := parseDurationField(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}

	return nil
}

func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
