package natsclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Zero(t, client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens at failure threshold", func(t *testing.T) {
		client, err := NewClient("nats://unreachable:4222")
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			client.noteFailure()
		}
		assert.NotEqual(t, StatusCircuitOpen, client.Status())

		client.noteFailure()
		assert.Equal(t, StatusCircuitOpen, client.Status())
		assert.Equal(t, int32(5), client.Failures())
	})

	t.Run("clear resets count and closes circuit", func(t *testing.T) {
		client, err := NewClient("nats://unreachable:4222")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			client.noteFailure()
		}
		require.Equal(t, StatusCircuitOpen, client.Status())

		client.clearCircuit()
		assert.Zero(t, client.Failures())
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	})

	t.Run("backoff doubles per trip and caps", func(t *testing.T) {
		client, err := NewClient("nats://unreachable:4222")
		require.NoError(t, err)

		assert.Equal(t, time.Second, client.Backoff())

		for i := 0; i < 5; i++ {
			client.noteFailure()
		}
		assert.Equal(t, 2*time.Second, client.Backoff())

		for i := 0; i < 5; i++ {
			client.noteFailure()
		}
		assert.Equal(t, 4*time.Second, client.Backoff())

		// Enough trips to exceed the cap if it were unbounded.
		for trip := 0; trip < 20; trip++ {
			for i := 0; i < 5; i++ {
				client.noteFailure()
			}
		}
		assert.LessOrEqual(t, client.Backoff(), time.Minute)
	})
}

func TestStatusAndHealth(t *testing.T) {
	cases := []struct {
		status  ConnectionStatus
		healthy bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}

	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tc.status)
			assert.Equal(t, tc.healthy, client.IsHealthy())
			assert.Equal(t, tc.status, client.Status())
		})
	}
}

func TestClient_ConcurrentStateAccess(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, fn := range []func(){
		func() { client.setStatus(StatusConnecting) },
		func() { client.setStatus(StatusConnected) },
		func() { _ = client.Status() },
		func() { client.noteFailure() },
		func() { client.clearCircuit() },
	} {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn()
			}
		}(fn)
	}
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, client.Status())
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out while disconnected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns immediately when already connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)
		client.setStatus(StatusConnected)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		start := time.Now()
		require.NoError(t, client.WaitForConnection(ctx))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("unblocks when the connection comes up", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		require.NoError(t, client.WaitForConnection(ctx))
		assert.Equal(t, StatusConnected, client.Status())
	})
}

func TestOperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, ErrNotConnected, client.Publish(ctx, "events.acme.orders", []byte("{}")))
	assert.Equal(t, ErrNotConnected, client.Subscribe(ctx, "events.acme.orders", func(context.Context, []byte) {}))

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{Name: "SPLATCAST_EVENTS", Subjects: []string{"events.>"}})
	assert.Equal(t, ErrNotConnected, err)

	_, err = client.GetStream(ctx, "SPLATCAST_EVENTS")
	assert.Equal(t, ErrNotConnected, err)

	assert.Equal(t, ErrNotConnected, client.PublishToStream(ctx, "events.acme.orders", []byte("{}")))
	assert.Equal(t, ErrNotConnected, client.ConsumeStream(ctx, "SPLATCAST_EVENTS", "events.>", func([]byte) {}))

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "splatcast_registry"})
	assert.Equal(t, ErrNotConnected, err)

	_, err = client.GetKeyValueBucket(ctx, "splatcast_registry")
	assert.Equal(t, ErrNotConnected, err)

	assert.Equal(t, ErrNotConnected, client.DeleteKeyValueBucket(ctx, "splatcast_registry"))

	_, err = client.ListKeyValueBuckets(ctx)
	assert.Equal(t, ErrNotConnected, err)
}

func TestOperationsShortCircuitWhenOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.noteFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	ctx := context.Background()

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "splatcast_registry"})
	assert.Equal(t, ErrCircuitOpen, err)

	_, err = client.GetKeyValueBucket(ctx, "splatcast_registry")
	assert.Equal(t, ErrCircuitOpen, err)

	assert.Equal(t, ErrCircuitOpen, client.DeleteKeyValueBucket(ctx, "splatcast_registry"))

	_, err = client.ListKeyValueBuckets(ctx)
	assert.Equal(t, ErrCircuitOpen, err)

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{Name: "SPLATCAST_EVENTS", Subjects: []string{"events.>"}})
	assert.Equal(t, ErrCircuitOpen, err)
}

func TestConnect_InvalidHost(t *testing.T) {
	client, err := NewClient("nats://invalid-host:4222", WithMaxReconnects(0), WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, client.Connect(ctx))

	// Close is a no-op on a client that never connected.
	assert.NoError(t, client.Close(ctx))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("needs embedded server")
	}

	tc := NewTestClient(t)
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "events.acme.orders", func(_ context.Context, data []byte) {
		received <- data
	}))

	payload := []byte(`{"event_id":"evt-001","tenant":"acme"}`)
	require.NoError(t, tc.Client.Publish(ctx, "events.acme.orders", payload))

	select {
	case data := <-received:
		assert.Equal(t, payload, data)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestJetStreamRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("needs embedded server")
	}

	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	require.NotNil(t, js)

	stream, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "SPLATCAST_EVENTS",
		Subjects: []string{"events.acme.*"},
	})
	require.NoError(t, err)
	require.NotNil(t, stream)

	got, err := tc.Client.GetStream(ctx, "SPLATCAST_EVENTS")
	require.NoError(t, err)
	assert.Equal(t, "SPLATCAST_EVENTS", got.CachedInfo().Config.Name)

	require.NoError(t, tc.Client.PublishToStream(ctx, "events.acme.orders", []byte("evt-001")))

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.ConsumeStream(ctx, "SPLATCAST_EVENTS", "events.acme.*", func(data []byte) {
		received <- data
	}))

	select {
	case data := <-received:
		assert.Equal(t, []byte("evt-001"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("stream message not delivered")
	}
}

func TestKeyValueBucketLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("needs embedded server")
	}

	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	kv, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "splatcast_registry"})
	require.NoError(t, err)

	_, err = kv.Put(ctx, "app/acme", []byte(`{"status":"active"}`))
	require.NoError(t, err)

	// Creating the same bucket again resolves to the existing one.
	again, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "splatcast_registry"})
	require.NoError(t, err)
	entry, err := again.Get(ctx, "app/acme")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"active"}`), entry.Value())

	fetched, err := tc.Client.GetKeyValueBucket(ctx, "splatcast_registry")
	require.NoError(t, err)
	entry, err = fetched.Get(ctx, "app/acme")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"active"}`), entry.Value())

	buckets, err := tc.Client.ListKeyValueBuckets(ctx)
	require.NoError(t, err)
	assert.Contains(t, buckets, "splatcast_registry")

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "splatcast_registry"))

	_, err = tc.Client.GetKeyValueBucket(ctx, "splatcast_registry")
	assert.Error(t, err)
}

func TestIsAlreadyExistsError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"bucket name in use", errors.New("nats: bucket name already in use"), true},
		{"generic already exists", errors.New("bucket already exists"), true},
		{"stream name in use", errors.New("nats: stream name already in use"), true},
		{"unrelated error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isAlreadyExistsError(tc.err))
		})
	}
}
