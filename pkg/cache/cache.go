// Package cache provides generic, thread-safe in-process caches. The
// idempotency store runs on the TTL strategy and the sandbox's compiled
// program cache on the LRU strategy; simple and hybrid round out the
// config-selectable set.
//
// Statistics are always collected. Prometheus export is opt-in through
// WithMetrics.
package cache

import (
	"time"

	"github.com/parrishsteve/splatcast/errors"
)

// Cache is the contract every strategy satisfies. V is the stored value
// type; keys are strings.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present. Expired
	// entries read as absent.
	Get(key string) (V, bool)

	// Set stores value under key, reporting true when a new entry was
	// created rather than an existing one replaced.
	Set(key string, value V) (bool, error)

	// Delete removes key, reporting whether it existed.
	Delete(key string) (bool, error)

	// Clear removes every entry.
	Clear() error

	// Size is the current entry count.
	Size() int

	// Keys lists every stored key in no particular order.
	Keys() []string

	// Stats exposes the always-on counters.
	Stats() *Statistics

	// Close releases background resources such as sweep goroutines.
	Close() error
}

// EvictCallback observes entries as they leave the cache, whether by
// explicit delete, capacity eviction, or expiry sweep.
type EvictCallback[V any] func(key string, value V)

// Entry is a stored value plus the bookkeeping the eviction strategies
// need.
type Entry[V any] struct {
	Key        string
	Value      V
	CreatedAt  time.Time
	ExpiresAt  *time.Time // nil means the entry never expires
	AccessedAt time.Time
}

// IsExpired reports whether the entry's deadline has passed.
func (e *Entry[V]) IsExpired() bool {
	if e.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*e.ExpiresAt)
}

// Touch marks the entry as just accessed.
func (e *Entry[V]) Touch() {
	e.AccessedAt = time.Now()
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
