// Package metric provides Prometheus metrics collection and the HTTP
// scrape endpoint for the splatcast gateway.
//
// A MetricsRegistry owns one Prometheus registry. It preloads the
// platform collectors (service lifecycle, message flow, NATS
// connectivity) plus the Go runtime and process collectors, and lets
// gateway components register their own metrics under a service name.
// A Server exposes the whole registry over HTTP, optionally behind
// TLS when the security configuration enables it.
//
// # Basic usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
//	core := registry.CoreMetrics()
//	core.RecordServiceStatus("gateway", 2)
//	core.RecordMessageReceived("publish", "event")
//	core.RecordProcessingDuration("publish", "validate", elapsed)
//
// # Platform metrics
//
// Every collector uses the "splatcast" namespace:
//
//   - splatcast_service_status{service}
//   - splatcast_messages_received_total{service,type}
//   - splatcast_messages_processed_total{service,type,status}
//   - splatcast_messages_published_total{service,subject}
//   - splatcast_processing_duration_seconds{service,operation}
//   - splatcast_errors_total{service,type}
//   - splatcast_health_status{service}
//   - splatcast_nats_connected, splatcast_nats_rtt_milliseconds,
//     splatcast_nats_reconnects_total, splatcast_nats_circuit_breaker
//
// # Component metrics
//
// Components take the MetricsRegistrar interface and register their
// own collectors, keyed by service and metric name so a second
// registration of the same pair is rejected:
//
//	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: "splatcast",
//	    Subsystem: "quota",
//	    Name:      "rejections_total",
//	    Help:      "Publishes rejected by the quota limiter",
//	}, []string{"app"})
//	if err := registry.RegisterCounterVec("quota", "rejections_total", rejections); err != nil {
//	    return err
//	}
//
// The publish pipeline, quota limiter, session hub, dedup cache, and
// JetStream monitor all register through this interface, which also
// keeps them testable against a fresh registry per test.
//
// # Scrape endpoint
//
// The server answers three routes: the metrics path (OpenMetrics
// enabled), /health, and an index page at /. Start blocks until Stop
// closes the listener; the same Server can be started again after a
// Stop.
//
// Registration and unregistration are mutex-protected; recording on
// the collectors themselves is safe for concurrent use per the
// Prometheus client's guarantees.
package metric
