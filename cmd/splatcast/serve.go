package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/parrishsteve/splatcast/config"
	"github.com/parrishsteve/splatcast/gateway"
	"github.com/parrishsteve/splatcast/health"
	"github.com/parrishsteve/splatcast/idempotency"
	"github.com/parrishsteve/splatcast/metric"
	"github.com/parrishsteve/splatcast/natsclient"
	"github.com/parrishsteve/splatcast/publish"
	"github.com/parrishsteve/splatcast/queue/jetstream"
	"github.com/parrishsteve/splatcast/quota"
	"github.com/parrishsteve/splatcast/resolve"
	"github.com/parrishsteve/splatcast/sandbox"
	"github.com/parrishsteve/splatcast/session"
	"github.com/parrishsteve/splatcast/store"
	"github.com/parrishsteve/splatcast/store/memstore"
	"github.com/parrishsteve/splatcast/store/natskv"
	"github.com/parrishsteve/splatcast/transformer"
)

// Pool sizing fallbacks when the sandbox section leaves them unset.
const (
	defaultSandboxWorkers   = 4
	defaultSandboxQueue     = 256
	defaultProgramCacheSize = 128
)

const executorStopTimeout = 5 * time.Second

// runServe wires the gateway and blocks until a shutdown signal.
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting splatcast",
		"version", Version,
		"build_time", BuildTime,
		"gateway_addr", cfg.Gateway.Addr,
		"storage_mode", cfg.Storage.Mode)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	natsClient, err := buildNATSClient(cfg, metricsRegistry, monitor)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := connectToNATS(signalCtx, natsClient); err != nil {
		return err
	}
	monitor.UpdateHealthy("nats", "connected")
	defer func() { _ = natsClient.Close(context.Background()) }()

	stores, setQuotaHook, closeStores, err := buildStores(signalCtx, cfg, natsClient)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer func() { _ = closeStores() }()

	resolver := resolve.New(stores.Topics, stores.Schemas)

	exec, err := buildExecutor(cfg)
	if err != nil {
		return fmt.Errorf("create sandbox executor: %w", err)
	}
	if err := exec.Start(signalCtx); err != nil {
		return fmt.Errorf("start sandbox executor: %w", err)
	}
	defer func() { _ = exec.Stop(executorStopTimeout) }()

	registry := transformer.NewRegistry(stores.Transformers, stores.Schemas, exec)

	limiter := quota.NewLimiter(stores.Topics, quota.WithMetricsRegistry(metricsRegistry))
	setQuotaHook(limiter.InvalidateCache)

	dedup, err := idempotency.New(signalCtx, cfg.Idempotency, metricsRegistry)
	if err != nil {
		return fmt.Errorf("create idempotency cache: %w", err)
	}
	defer func() { _ = dedup.Close() }()

	bus := jetstream.NewBus(natsClient)

	pipeline := publish.NewPipeline(resolver, registry, limiter, dedup, bus,
		publish.WithAudit(stores.Audit),
		publish.WithMetricsRegistry(metricsRegistry))

	hub := session.NewHub(bus, session.WithMetricsRegistry(metricsRegistry))

	server, err := gateway.NewServer(cfg.Gateway, stores, resolver, pipeline, registry, hub,
		gateway.WithHealthMonitor(monitor),
		gateway.WithSecurity(cfg.Security))
	if err != nil {
		return fmt.Errorf("create gateway server: %w", err)
	}
	if err := server.Start(signalCtx); err != nil {
		return fmt.Errorf("start gateway server: %w", err)
	}

	metricsServer, err := startMetricsServer(cfg, metricsRegistry)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}

	slog.Info("Splatcast started", "gateway_addr", cfg.Gateway.Addr)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Splatcast shutdown complete")
	return nil
}

// buildNATSClient assembles the broker client from the nats config section.
func buildNATSClient(cfg *config.Config, registry *metric.MetricsRegistry, monitor *health.Monitor) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateUnhealthy("nats", "connection lost")
			}
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			monitor.Update("nats", health.FromError("nats", err))
		}),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	return natsclient.NewClient(cfg.NATS.URLs[0], opts...)
}

// connectToNATS establishes the connection and waits for it to be ready.
func connectToNATS(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// buildStores selects the registry backend. The returned setter installs the
// quota invalidation hook once the limiter exists; the returned closer
// releases backend resources on shutdown.
func buildStores(ctx context.Context, cfg *config.Config, client *natsclient.Client) (store.Stores, func(func(appID, topicID int64)), func() error, error) {
	switch cfg.Storage.Mode {
	case config.StorageModeKV:
		st, err := natskv.New(ctx, client, natskv.Config{
			Bucket:   cfg.Storage.Bucket.Name,
			History:  cfg.Storage.Bucket.History,
			MaxBytes: cfg.Storage.Bucket.MaxBytes,
			Replicas: cfg.Storage.Bucket.Replicas,
		})
		if err != nil {
			return store.Stores{}, nil, nil, err
		}
		stores := store.Stores{Apps: st, Topics: st, Schemas: st, Transformers: st, Audit: st}
		return stores, func(hook func(appID, topicID int64)) { st.OnQuotaChange = hook }, st.Close, nil
	default:
		st := memstore.New()
		stores := store.Stores{Apps: st, Topics: st, Schemas: st, Transformers: st, Audit: st}
		return stores, func(hook func(appID, topicID int64)) { st.OnQuotaChange = hook }, func() error { return nil }, nil
	}
}

// buildExecutor sizes the transform sandbox from config.
func buildExecutor(cfg *config.Config) (*sandbox.Executor, error) {
	workers := cfg.Sandbox.Workers
	if workers <= 0 {
		workers = defaultSandboxWorkers
	}
	queueSize := cfg.Sandbox.QueueSize
	if queueSize <= 0 {
		queueSize = defaultSandboxQueue
	}
	cacheSize := cfg.Sandbox.ProgramCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultProgramCacheSize
	}
	return sandbox.New(workers, queueSize, cacheSize, sandbox.WithLimits(cfg.Sandbox.Limits()))
}

// startMetricsServer exposes /metrics when enabled. The server listens in a
// goroutine; startup failures surface in the log rather than aborting the
// gateway.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) (*metric.Server, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	port, err := portFromAddr(cfg.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics addr: %w", err)
	}
	srv := metric.NewServer(port, "/metrics", registry, cfg.Security)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", "error", err)
		}
	}()
	slog.Info("Metrics server listening", "addr", srv.Address())
	return srv, nil
}

func portFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
