package natsclient

// Test infrastructure backed by an embedded NATS server. Each TestClient
// owns its own server instance on a random port, so tests never share
// broker state and need nothing installed on the host.

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
)

// TestClient bundles an embedded NATS server with a connected Client.
type TestClient struct {
	server  *server.Server
	Client  *Client
	URL     string
	cleanup func()
}

type testConfig struct {
	jetstream    bool
	kvBuckets    []string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures the embedded server and its client.
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the embedded server.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithKVBuckets enables JetStream and pre-creates the named buckets.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithTestTimeout sets the client's dial timeout.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
	}
}

// WithStartTimeout bounds how long to wait for the server to come up.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

func defaultTestConfig() *testConfig {
	return &testConfig{
		timeout:      5 * time.Second,
		startTimeout: 10 * time.Second,
	}
}

func startServer(cfg *testConfig, storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: cfg.jetstream,
		StoreDir:  storeDir,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(cfg.startTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", cfg.startTimeout)
	}
	return srv, nil
}

func connect(cfg *testConfig, url string) (*Client, error) {
	client, err := NewClient(url,
		WithTimeout(cfg.timeout),
		WithMaxReconnects(0),  // tests fail fast rather than reconnect
		WithHealthInterval(0), // no monitor goroutine in tests
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if err := client.WaitForConnection(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection not ready: %w", err)
	}
	return client, nil
}

// NewSharedTestClient starts an embedded server for use in TestMain,
// where no testing.T exists yet. The caller must Terminate it.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	storeDir, err := os.MkdirTemp("", "natsclient-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	srv, err := startServer(cfg, storeDir)
	if err != nil {
		_ = os.RemoveAll(storeDir)
		return nil, err
	}

	client, err := connect(cfg, srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		_ = os.RemoveAll(storeDir)
		return nil, err
	}

	tc := &TestClient{
		server: srv,
		Client: client,
		URL:    srv.ClientURL(),
		cleanup: func() {
			_ = client.Close(context.Background())
			srv.Shutdown()
			_ = os.RemoveAll(storeDir)
		},
	}

	if err := tc.createBuckets(context.Background(), cfg.kvBuckets); err != nil {
		tc.cleanup()
		return nil, err
	}

	return tc, nil
}

// NewTestClient starts an embedded server for one test and registers
// cleanup with it. testing.TB covers both tests and benchmarks.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	srv, err := startServer(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to start NATS server: %v", err)
	}

	client, err := connect(cfg, srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		t.Fatalf("Failed to connect to NATS: %v", err)
	}

	tc := &TestClient{
		server: srv,
		Client: client,
		URL:    srv.ClientURL(),
		cleanup: func() {
			_ = client.Close(context.Background())
			srv.Shutdown()
		},
	}

	if err := tc.createBuckets(context.Background(), cfg.kvBuckets); err != nil {
		tc.cleanup()
		t.Fatalf("Failed to setup KV buckets: %v", err)
	}

	t.Cleanup(tc.cleanup)

	return tc
}

func (tc *TestClient) createBuckets(ctx context.Context, buckets []string) error {
	for _, name := range buckets {
		if _, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name}); err != nil {
			return fmt.Errorf("failed to create KV bucket %s: %w", name, err)
		}
	}
	return nil
}

// Terminate shuts the client and server down. Usually t.Cleanup handles
// this; TestMain callers invoke it directly.
func (tc *TestClient) Terminate() error {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
	return nil
}

// CreateKVBucket creates a bucket with default settings.
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}

// GetKVBucket fetches an existing bucket.
func (tc *TestClient) GetKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.GetKeyValueBucket(ctx, name)
}
