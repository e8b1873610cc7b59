package metric

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/pkg/security"
	"github.com/parrishsteve/splatcast/pkg/tlsutil"
)

const (
	defaultPort = 9090
	defaultPath = "/metrics"
)

// Server exposes the registry over HTTP for Prometheus scraping,
// optionally behind TLS when the security section enables it.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	security security.Config

	mu     sync.Mutex
	server *http.Server
}

// NewServer builds a scrape endpoint. Zero port and empty path fall
// back to :9090 and /metrics.
func NewServer(port int, path string, registry *MetricsRegistry, securityCfg security.Config) *Server {
	if path == "" {
		path = defaultPath
	}
	if port == 0 {
		port = defaultPort
	}
	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		security: securityCfg,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>Splatcast Metrics</title></head>
<body>
<h1>Splatcast Metrics Server</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`, s.path)
	})

	return mux
}

// Start serves scrape requests until Stop is called. It blocks, so
// callers run it in a goroutine. A second Start without an
// intervening Stop is rejected.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	serveTLS := s.security.TLS.Server.Enabled
	if serveTLS {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.security.TLS.Server)
		if err != nil {
			s.mu.Unlock()
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		srv.TLSConfig = tlsConfig
	}

	s.server = srv
	s.mu.Unlock()

	var err error
	if serveTLS {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to start server on port %d", s.port))
	}
	return nil
}

// Stop closes the server. The instance can be started again
// afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
	}
	return nil
}

// Address returns the scrape URL.
func (s *Server) Address() string {
	scheme := "http"
	if s.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.port, s.path)
}
