package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parrishsteve/splatcast/metric"
)

// jetstreamMetrics polls stream and consumer stats into Prometheus.
// Only resources created or accessed through this client are tracked.
// All methods tolerate a nil receiver so callers need no metrics-enabled
// check.
type jetstreamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec // 1 active, 0 unreachable

	consumerPending     *prometheus.GaugeVec
	consumerDelivered   *prometheus.CounterVec
	consumerAcked       *prometheus.CounterVec
	consumerRedelivered *prometheus.CounterVec

	errors *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "splatcast",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splatcast",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &jetstreamMetrics{
		streamMessages: gauge("stream_messages", "Current number of messages in stream", "stream"),
		streamBytes:    gauge("stream_bytes", "Storage bytes used by stream", "stream"),
		streamState:    gauge("stream_state", "Stream state (1=active, 0=inactive)", "stream"),

		consumerPending:     gauge("consumer_pending_messages", "Number of pending messages for consumer", "stream", "consumer"),
		consumerDelivered:   counter("consumer_delivered_total", "Total messages delivered to consumer", "stream", "consumer"),
		consumerAcked:       counter("consumer_acked_total", "Total messages acknowledged by consumer", "stream", "consumer"),
		consumerRedelivered: counter("consumer_redelivered_total", "Total messages redelivered to consumer", "stream", "consumer"),

		errors: counter("operation_errors_total", "Total number of JetStream operation errors", "operation"),

		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	gauges := []struct {
		name string
		g    *prometheus.GaugeVec
	}{
		{"stream_messages", m.streamMessages},
		{"stream_bytes", m.streamBytes},
		{"stream_state", m.streamState},
		{"consumer_pending", m.consumerPending},
	}
	for _, reg := range gauges {
		if err := registry.RegisterGaugeVec("jetstream", reg.name, reg.g); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		name string
		c    *prometheus.CounterVec
	}{
		{"consumer_delivered", m.consumerDelivered},
		{"consumer_acked", m.consumerAcked},
		{"consumer_redelivered", m.consumerRedelivered},
		{"errors", m.errors},
	}
	for _, reg := range counters {
		if err := registry.RegisterCounterVec("jetstream", reg.name, reg.c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

func (m *jetstreamMetrics) trackConsumer(streamName, consumerName string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[streamName+":"+consumerName] = consumer
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes every tracked stream and consumer. A resource
// that fails its Info call is marked inactive and skipped, never fatal.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	consumers := make([]jetstream.Consumer, 0, len(m.consumers))
	for _, v := range m.consumers {
		consumers = append(consumers, v)
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}

		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}

	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			continue
		}

		stream, name := info.Stream, info.Name
		m.consumerPending.WithLabelValues(stream, name).Set(float64(info.NumPending))
		m.consumerDelivered.WithLabelValues(stream, name).Add(float64(info.Delivered.Stream))
		m.consumerAcked.WithLabelValues(stream, name).Add(float64(info.AckFloor.Stream))
		m.consumerRedelivered.WithLabelValues(stream, name).Add(float64(info.NumRedelivered))
	}
}

// startPoller refreshes stats every interval until the returned cancel
// runs or ctx ends.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
