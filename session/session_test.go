package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/queue"
)

// fakeConsumer lets tests drive delivery by hand.
type fakeConsumer struct {
	mu      sync.Mutex
	running bool
	handler queue.Handler
}

func (f *fakeConsumer) Start(_ context.Context, _ queue.Channel, _ *time.Time, handler queue.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.ErrAlreadyStarted
	}
	f.running = true
	f.handler = handler
	return nil
}

func (f *fakeConsumer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return errors.ErrNotStarted
	}
	f.running = false
	return nil
}

func (f *fakeConsumer) deliver(ev *queue.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// fakeBus hands out a fixed consumer.
type fakeBus struct {
	consumers []*fakeConsumer
}

func (f *fakeBus) EnsureChannel(context.Context, queue.Channel, time.Duration) error { return nil }

func (f *fakeBus) Append(context.Context, queue.Channel, *queue.Event) error { return nil }

func (f *fakeBus) NewConsumer() queue.Consumer {
	c := &fakeConsumer{}
	f.consumers = append(f.consumers, c)
	return c
}

// fakeConn records written events.
type fakeConn struct {
	mu      sync.Mutex
	written []*queue.Event
	closed  bool
	failAll bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("broken pipe")
	}
	f.written = append(f.written, v.(*queue.Event))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, ev := range f.written {
		out[i] = ev.ID
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func ev(i int) *queue.Event {
	return &queue.Event{ID: fmt.Sprintf("evt_%d", i), PublishedAt: time.Now().UnixMilli()}
}

func TestSessionDeliversInOrder(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)
	conn := &fakeConn{}

	s, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, conn, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	cons := bus.consumers[0]
	for i := 0; i < 5; i++ {
		cons.deliver(ev(i))
	}

	waitFor(t, func() bool { return len(conn.ids()) == 5 })
	assert.Equal(t, []string{"evt_0", "evt_1", "evt_2", "evt_3", "evt_4"}, conn.ids())

	delivered, dropped := s.Stats()
	assert.Equal(t, int64(5), delivered)
	assert.Zero(t, dropped)
}

func TestSessionMapper(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)
	conn := &fakeConn{}

	// Keep even sequence numbers and tag them.
	mapper := func(ev *queue.Event) (*queue.Event, bool) {
		if ev.SchemaID%2 != 0 {
			return nil, false
		}
		ev.Data = map[string]any{"tagged": true}
		return ev, true
	}

	s, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, conn, nil, WithMapper(mapper))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	cons := bus.consumers[0]
	for i := 0; i < 4; i++ {
		cons.deliver(&queue.Event{ID: fmt.Sprintf("evt_%d", i), SchemaID: int64(i)})
	}

	waitFor(t, func() bool { return len(conn.ids()) == 2 })
	assert.Equal(t, []string{"evt_0", "evt_2"}, conn.ids())
	conn.mu.Lock()
	assert.Equal(t, map[string]any{"tagged": true}, conn.written[0].Data)
	conn.mu.Unlock()
}

func TestSessionCloseIdempotent(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)
	conn := &fakeConn{}

	s, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, conn, nil)
	require.NoError(t, err)
	require.Equal(t, 1, hub.Count())

	s.Close()
	s.Close()

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, hub.Count())
	assert.False(t, bus.consumers[0].running)
}

func TestSessionClosesOnWriteFailure(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)
	conn := &fakeConn{failAll: true}

	_, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, conn, nil)
	require.NoError(t, err)

	bus.consumers[0].deliver(ev(0))

	waitFor(t, func() bool { return hub.Count() == 0 })
	assert.True(t, conn.isClosed())
}

func TestHubDestroy(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)

	s, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, &fakeConn{}, nil)
	require.NoError(t, err)

	_, found := hub.Get(s.ID)
	assert.True(t, found)

	hub.Destroy(s.ID)
	assert.Equal(t, 0, hub.Count())

	// Unknown ids are a no-op.
	hub.Destroy("not-a-session")
	hub.Destroy(s.ID)
}

func TestHubShutdown(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)

	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		_, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 1}, c, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, hub.Count())

	hub.Shutdown()
	assert.Equal(t, 0, hub.Count())
	for _, c := range conns {
		assert.True(t, c.isClosed())
	}
}

func TestSessionDropsWhenSubscriberSlow(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(bus)

	// A connection that blocks forever simulates a stuck subscriber.
	blocked := make(chan struct{})
	conn := &blockingConn{release: blocked}

	s, err := hub.Create(context.Background(), queue.Channel{AppID: 1, TopicID: 2}, conn, nil)
	require.NoError(t, err)

	cons := bus.consumers[0]
	// One event is in flight in the write loop; fill the queue past its
	// depth so older events get dropped.
	for i := 0; i < dispatchQueueSize+10; i++ {
		cons.deliver(ev(i))
	}

	waitFor(t, func() bool {
		_, dropped := s.Stats()
		return dropped > 0
	})

	close(blocked)
	s.Close()
}

// blockingConn blocks writes until released.
type blockingConn struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingConn) WriteJSON(any) error {
	<-b.release
	return nil
}

func (b *blockingConn) Close() error {
	b.once.Do(func() {})
	return nil
}
