package jetstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/natsclient"
	"github.com/parrishsteve/splatcast/queue"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := server.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	url := startTestNATS(t)
	client, err := natsclient.NewClient(url)
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return NewBus(client)
}

// collector gathers consumed events for assertions.
type collector struct {
	mu     sync.Mutex
	events []*queue.Event
}

func (c *collector) handle(ev *queue.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.ID
	}
	return out
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.events)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(c.ids()))
}

func testEvent(i int) *queue.Event {
	return &queue.Event{
		ID:          fmt.Sprintf("evt_%d", i),
		Channel:     "1__1",
		SchemaID:    1,
		Data:        map[string]any{"seq": i},
		PublishedAt: time.Now().UnixMilli(),
	}
}

func TestEnsureChannelIdempotent(t *testing.T) {
	bus := newTestBus(t)
	ch := queue.Channel{AppID: 1, TopicID: 1}

	require.NoError(t, bus.EnsureChannel(context.Background(), ch, time.Hour))
	require.NoError(t, bus.EnsureChannel(context.Background(), ch, time.Hour))
}

func TestAppendAndConsumeNewOnly(t *testing.T) {
	bus := newTestBus(t)
	ch := queue.Channel{AppID: 1, TopicID: 2}
	ctx := context.Background()

	require.NoError(t, bus.EnsureChannel(ctx, ch, time.Hour))
	// Published before the consumer attaches; must not be delivered.
	require.NoError(t, bus.Append(ctx, ch, testEvent(0)))

	col := &collector{}
	cons := bus.NewConsumer()
	require.NoError(t, cons.Start(ctx, ch, nil, col.handle))
	t.Cleanup(func() { _ = cons.Stop() })

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, bus.Append(ctx, ch, testEvent(1)))
	require.NoError(t, bus.Append(ctx, ch, testEvent(2)))

	col.waitFor(t, 2)
	assert.Equal(t, []string{"evt_1", "evt_2"}, col.ids())
}

func TestConsumeReplayFromPast(t *testing.T) {
	bus := newTestBus(t)
	ch := queue.Channel{AppID: 1, TopicID: 3}
	ctx := context.Background()

	require.NoError(t, bus.EnsureChannel(ctx, ch, time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Append(ctx, ch, testEvent(i)))
	}

	from := time.Now().Add(-time.Minute)
	col := &collector{}
	cons := bus.NewConsumer()
	require.NoError(t, cons.Start(ctx, ch, &from, col.handle))
	t.Cleanup(func() { _ = cons.Stop() })

	col.waitFor(t, 3)
	assert.Equal(t, []string{"evt_0", "evt_1", "evt_2"}, col.ids())
}

func TestConsumeReplayFromFuture(t *testing.T) {
	bus := newTestBus(t)
	ch := queue.Channel{AppID: 1, TopicID: 4}
	ctx := context.Background()

	require.NoError(t, bus.EnsureChannel(ctx, ch, time.Hour))
	require.NoError(t, bus.Append(ctx, ch, testEvent(0)))

	// A start position past the stream head delivers nothing until new
	// events arrive.
	from := time.Now().Add(time.Hour)
	col := &collector{}
	cons := bus.NewConsumer()
	require.NoError(t, cons.Start(ctx, ch, &from, col.handle))
	t.Cleanup(func() { _ = cons.Stop() })

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, col.ids())
}

func TestConsumerLifecycle(t *testing.T) {
	bus := newTestBus(t)
	ch := queue.Channel{AppID: 1, TopicID: 5}
	ctx := context.Background()

	require.NoError(t, bus.EnsureChannel(ctx, ch, time.Hour))

	cons := bus.NewConsumer()
	assert.ErrorIs(t, cons.Stop(), errors.ErrNotStarted)

	col := &collector{}
	require.NoError(t, cons.Start(ctx, ch, nil, col.handle))
	assert.ErrorIs(t, cons.Start(ctx, ch, nil, col.handle), errors.ErrAlreadyStarted)

	require.NoError(t, cons.Stop())
	assert.ErrorIs(t, cons.Stop(), errors.ErrNotStarted)

	// Restart after stop is allowed.
	from := time.Now().Add(-time.Minute)
	require.NoError(t, cons.Start(ctx, ch, &from, col.handle))
	require.NoError(t, cons.Stop())
}

func TestAppendWithoutConnection(t *testing.T) {
	url := startTestNATS(t)
	client, err := natsclient.NewClient(url)
	require.NoError(t, err)
	// Never connected.
	bus := NewBus(client)

	err = bus.Append(context.Background(), queue.Channel{AppID: 1, TopicID: 6}, testEvent(0))
	assert.ErrorIs(t, err, errors.ErrQueuePublish)
}
