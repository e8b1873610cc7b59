package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/pkg/cache"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	cfg := cache.Config{
		Enabled:         true,
		Strategy:        cache.StrategyTTL,
		TTL:             ttl,
		CleanupInterval: 50 * time.Millisecond,
	}
	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLookupAndStore(t *testing.T) {
	c := newTestCache(t, time.Minute)

	_, found := c.Lookup(1, 2, "client-key-1")
	assert.False(t, found)

	resp := &model.PublishResponse{EventID: "evt_client-key-1", TopicID: 2}
	c.Store(1, 2, "client-key-1", resp)

	got, found := c.Lookup(1, 2, "client-key-1")
	require.True(t, found)
	assert.Equal(t, "evt_client-key-1", got.EventID)
}

func TestKeysScopedPerTopic(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Store(1, 2, "key", &model.PublishResponse{EventID: "evt_a", TopicID: 2})

	_, found := c.Lookup(1, 3, "key")
	assert.False(t, found, "same key on another topic must not collide")
	_, found = c.Lookup(9, 2, "key")
	assert.False(t, found, "same key in another app must not collide")
}

func TestEmptyKeyIgnored(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Store(1, 2, "", &model.PublishResponse{EventID: "evt_x"})
	assert.Equal(t, 0, c.Size())

	_, found := c.Lookup(1, 2, "")
	assert.False(t, found)
}

func TestEntriesExpire(t *testing.T) {
	c := newTestCache(t, 60*time.Millisecond)

	c.Store(1, 2, "key", &model.PublishResponse{EventID: "evt_a"})
	_, found := c.Lookup(1, 2, "key")
	require.True(t, found)

	time.Sleep(120 * time.Millisecond)
	_, found = c.Lookup(1, 2, "key")
	assert.False(t, found)
}

func TestDisabledConfigNeverDeduplicates(t *testing.T) {
	c, err := New(context.Background(), cache.Config{Enabled: false}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Store(1, 2, "key", &model.PublishResponse{EventID: "evt_a"})
	_, found := c.Lookup(1, 2, "key")
	assert.False(t, found)
}

func TestNewWithTTL(t *testing.T) {
	c, err := NewWithTTL(context.Background(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Store(1, 2, "key", &model.PublishResponse{EventID: "evt_a"})
	_, found := c.Lookup(1, 2, "key")
	assert.True(t, found)
}
