package natsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/parrishsteve/splatcast/pkg/cache"
)

const (
	defaultHistoryTTL  = 5 * time.Second
	minHistorySweep    = time.Second
	historySweepPerTTL = 5
)

// TemporalResolver answers "what was this key's value at time T" against
// a KV bucket's revision history. Histories are cached with a short TTL
// so a burst of point-in-time queries for the same key fetches the
// bucket once.
type TemporalResolver struct {
	bucket       jetstream.KeyValue
	historyCache cache.Cache[[]jetstream.KeyValueEntry]
}

// NewTemporalResolver builds a resolver with the default 5 second
// history cache. ctx bounds the cache's sweep goroutine.
func NewTemporalResolver(ctx context.Context, bucket jetstream.KeyValue) *TemporalResolver {
	return NewTemporalResolverWithCache(ctx, bucket, defaultHistoryTTL)
}

// NewTemporalResolverWithCache builds a resolver with a custom history
// cache TTL. The cache sweeps at a fifth of the TTL, at least once per
// second. Cache construction only fails on invalid options, so a
// failure here panics.
func NewTemporalResolverWithCache(
	ctx context.Context,
	bucket jetstream.KeyValue,
	cacheTTL time.Duration,
) *TemporalResolver {
	sweep := cacheTTL / historySweepPerTTL
	if sweep < minHistorySweep {
		sweep = minHistorySweep
	}

	histCache, err := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, cacheTTL, sweep)
	if err != nil {
		panic(fmt.Sprintf("failed to create temporal resolver cache: %v", err))
	}

	return &TemporalResolver{
		bucket:       bucket,
		historyCache: histCache,
	}
}

func (tr *TemporalResolver) history(ctx context.Context, key string) ([]jetstream.KeyValueEntry, error) {
	if cached, found := tr.historyCache.Get(key); found {
		return cached, nil
	}

	history, err := tr.bucket.History(ctx, key)
	if err != nil {
		return nil, err
	}

	tr.historyCache.Set(key, history)
	return history, nil
}

// GetAtTimestamp returns the revision that was current at targetTime.
// Times before the first revision return the first revision; times at
// or after the newest return the newest. Binary search over the
// history, so O(log n) after the fetch.
func (tr *TemporalResolver) GetAtTimestamp(
	ctx context.Context,
	key string,
	targetTime time.Time,
) (jetstream.KeyValueEntry, error) {
	history, err := tr.history(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || err.Error() == "nats: key not found" {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}

	if len(history) == 0 {
		return nil, ErrKVKeyNotFound
	}

	if targetTime.Before(history[0].Created()) {
		return history[0], nil
	}

	last := len(history) - 1
	if !targetTime.Before(history[last].Created()) {
		return history[last], nil
	}

	// Find the newest revision created at or before targetTime.
	left, right := 0, last
	for left < right {
		mid := left + (right-left+1)/2
		if history[mid].Created().After(targetTime) {
			right = mid - 1
		} else {
			left = mid
		}
	}

	return history[left], nil
}

// GetRangeAtTimestamp resolves several keys at the same instant. Keys
// with no history at targetTime are left out of the result.
func (tr *TemporalResolver) GetRangeAtTimestamp(
	ctx context.Context,
	keys []string,
	targetTime time.Time,
) (map[string]jetstream.KeyValueEntry, error) {
	results := make(map[string]jetstream.KeyValueEntry)

	for _, key := range keys {
		entry, err := tr.GetAtTimestamp(ctx, key, targetTime)
		if err != nil {
			if errors.Is(err, ErrKVKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get %s at timestamp: %w", key, err)
		}
		results[key] = entry
	}

	return results, nil
}

// GetInTimeRange returns the revisions of key created in (start, end],
// oldest first.
func (tr *TemporalResolver) GetInTimeRange(
	ctx context.Context,
	key string,
	startTime, endTime time.Time,
) ([]jetstream.KeyValueEntry, error) {
	history, err := tr.history(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	var results []jetstream.KeyValueEntry
	for _, entry := range history {
		created := entry.Created()
		if created.After(startTime) && !created.After(endTime) {
			results = append(results, entry)
		}
	}

	return results, nil
}

// GetRangeInTimeRange runs GetInTimeRange for several keys, skipping
// keys with nothing in the window.
func (tr *TemporalResolver) GetRangeInTimeRange(
	ctx context.Context,
	keys []string,
	startTime, endTime time.Time,
) (map[string][]jetstream.KeyValueEntry, error) {
	results := make(map[string][]jetstream.KeyValueEntry)

	for _, key := range keys {
		entries, err := tr.GetInTimeRange(ctx, key, startTime, endTime)
		if err != nil {
			if errors.Is(err, ErrKVKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get %s in range: %w", key, err)
		}
		if len(entries) > 0 {
			results[key] = entries
		}
	}

	return results, nil
}

// GetStats exposes the history cache counters.
func (tr *TemporalResolver) GetStats() *cache.Statistics {
	return tr.historyCache.Stats()
}

// Close stops the history cache's sweep goroutine.
func (tr *TemporalResolver) Close() error {
	return tr.historyCache.Close()
}
