package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splatcast"

// Metrics holds the platform-level collectors shared by every
// component: service lifecycle, message flow, and NATS connectivity.
// Domain-specific metrics register separately through the registry.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

// NewMetrics builds the platform collector set. Collectors are inert
// until registered.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: gaugeVec("service", "status",
			"Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			"service"),
		MessagesReceived: counterVec("messages", "received_total",
			"Total number of messages received",
			"service", "type"),
		MessagesProcessed: counterVec("messages", "processed_total",
			"Total number of messages processed",
			"service", "type", "status"),
		MessagesPublished: counterVec("messages", "published_total",
			"Total number of messages published",
			"service", "subject"),
		ProcessingDuration: histogramVec("processing", "duration_seconds",
			"Message processing duration in seconds",
			"service", "operation"),
		ErrorsTotal: counterVec("errors", "total",
			"Total number of errors",
			"service", "type"),
		HealthCheckStatus: gaugeVec("health", "status",
			"Health check status (0=unhealthy, 1=healthy)",
			"service"),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "connected",
			Help: "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "rtt_milliseconds",
			Help: "NATS round-trip time in milliseconds",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "circuit_breaker",
			Help: "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
		}),
	}
}

// collectors returns every platform collector for bulk registration.
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.MessagesReceived,
		c.MessagesProcessed,
		c.MessagesPublished,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordServiceStatus updates the lifecycle gauge for a service.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordMessageReceived counts one inbound message.
func (c *Metrics) RecordMessageReceived(service, messageType string) {
	c.MessagesReceived.WithLabelValues(service, messageType).Inc()
}

// RecordMessageProcessed counts one processed message with its outcome.
func (c *Metrics) RecordMessageProcessed(service, messageType, status string) {
	c.MessagesProcessed.WithLabelValues(service, messageType, status).Inc()
}

// RecordMessagePublished counts one message published to a subject.
func (c *Metrics) RecordMessagePublished(service, subject string) {
	c.MessagesPublished.WithLabelValues(service, subject).Inc()
}

// RecordProcessingDuration observes how long an operation took.
func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordError counts one error by type.
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordHealthStatus updates the health gauge for a service.
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(service).Set(boolValue(healthy))
}

// RecordNATSStatus updates the NATS connectivity gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolValue(connected))
}

// RecordNATSRTT updates the NATS round-trip gauge.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect counts one reconnection.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the breaker gauge.
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
