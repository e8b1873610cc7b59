// Package gateway exposes the event gateway over HTTP: publish and batch
// publish, transformer authoring, and websocket subscribe with replay.
// The gateway is a thin edge; every decision lives in the publish pipeline,
// transformer registry, and session hub it fronts.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/health"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/pkg/security"
	"github.com/parrishsteve/splatcast/pkg/tlsutil"
	"github.com/parrishsteve/splatcast/publish"
	"github.com/parrishsteve/splatcast/resolve"
	"github.com/parrishsteve/splatcast/session"
	"github.com/parrishsteve/splatcast/store"
	"github.com/parrishsteve/splatcast/transformer"
)

// Config holds the gateway's edge settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `json:"addr"`

	// EnableCORS enables CORS headers; requires explicit CORSOrigins.
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed origins. Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default 1MB).
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// MaxSessionsPerApp caps concurrent subscriber sessions per app.
	// Zero means unlimited.
	MaxSessionsPerApp int `json:"max_sessions_per_app,omitempty"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// Validate checks and normalizes the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "addr is required")
	}
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_request_size check")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024
	}
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxRequestSize:  1024 * 1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP/websocket edge of the gateway.
type Server struct {
	config   Config
	stores   store.Stores
	resolver *resolve.Resolver
	pipeline *publish.Pipeline
	registry *transformer.Registry
	hub      *session.Hub
	logger   *slog.Logger
	monitor  *health.Monitor

	security   security.Config
	tlsCleanup func()

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	running  atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithHealthMonitor exposes dependency health on the healthz endpoint.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// WithSecurity enables TLS on the listener per the security section:
// manual certificates, mTLS, or ACME-managed issuance.
func WithSecurity(sec security.Config) Option {
	return func(s *Server) {
		s.security = sec
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer assembles the gateway edge. config is validated and normalized.
func NewServer(
	config Config,
	stores store.Stores,
	resolver *resolve.Resolver,
	pipeline *publish.Pipeline,
	registry *transformer.Registry,
	hub *session.Hub,
	opts ...Option,
) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		stores:   stores,
		resolver: resolver,
		pipeline: pipeline,
		registry: registry,
		hub:      hub,
		logger:   slog.Default().With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the route table. Exposed separately from Start so tests
// can drive the mux with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/apps/{app}/topics/{topic}/publish", s.handlePublish)
	mux.HandleFunc("POST /v1/apps/{app}/topics/{topic}/publish/batch", s.handlePublishBatch)
	mux.HandleFunc("GET /v1/apps/{app}/topics/{topic}/subscribe", s.handleSubscribe)
	mux.HandleFunc("POST /v1/apps/{app}/topics/{topic}/transformers", s.handleTransformerCreate)
	mux.HandleFunc("PATCH /v1/apps/{app}/topics/{topic}/transformers/{id}", s.handleTransformerUpdate)
	mux.HandleFunc("POST /v1/apps/{app}/topics/{topic}/transformers/{id}/test", s.handleTransformerTest)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withCORS(mux)
}

// Start begins serving. It returns once the listener is accepting; serve
// errors after startup are logged. With TLS enabled in the security
// config the listener terminates TLS, including ACME-managed
// certificates with background renewal.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "state check")
	}

	s.httpSrv = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.security.TLS.Server.Enabled {
		tlsConfig, cleanup, err := tlsutil.LoadServerTLSConfigWithACME(ctx, s.security.TLS.Server)
		if err != nil {
			s.running.Store(false)
			return err
		}
		s.httpSrv.TLSConfig = tlsConfig
		s.tlsCleanup = cleanup

		go func() {
			s.logger.Info("gateway listening", "addr", s.config.Addr, "tls", true)
			if err := s.httpSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				s.logger.Error("gateway serve failed", "error", err)
			}
		}()
		return nil
	}

	go func() {
		s.logger.Info("gateway listening", "addr", s.config.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway serve failed", "error", err)
		}
	}()
	return nil
}

// Stop closes subscriber sessions and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "http shutdown")
	}
	if s.tlsCleanup != nil {
		s.tlsCleanup()
		s.tlsCleanup = nil
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": s.hub.Count(),
		})
		return
	}

	agg := s.monitor.AggregateHealth("gateway")
	status := http.StatusOK
	if agg.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     agg.Status,
		"sessions":   s.hub.Count(),
		"components": agg.SubStatuses,
	})
}

// withCORS applies the CORS policy ahead of the route table.
func (s *Server) withCORS(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.config.CORSOrigins {
			if allowed == "*" || allowed == origin {
				if origin != "" {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				} else {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveApp accepts an app path segment as a numeric id or a name.
func (s *Server) resolveApp(r *http.Request) (*model.App, error) {
	seg := r.PathValue("app")
	if id, err := strconv.ParseInt(seg, 10, 64); err == nil {
		return s.stores.Apps.AppByID(r.Context(), id)
	}
	return s.stores.Apps.AppByName(r.Context(), seg)
}

// topicRef accepts a topic path segment as a numeric id or a name.
func topicRef(r *http.Request) model.TopicRef {
	seg := r.PathValue("topic")
	if id, err := strconv.ParseInt(seg, 10, 64); err == nil {
		return model.TopicRefByID(id)
	}
	return model.TopicRefByName(seg)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "Server", "pathID",
			fmt.Sprintf("%s path segment", name))
	}
	return id, nil
}
