// Package worker provides a generic bounded worker pool. The sandbox
// executor runs transform scripts on one so CPU-bound work never blocks
// the publish or dispatch paths.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parrishsteve/splatcast/metric"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// Pool runs a fixed set of workers over a bounded queue of T. Submit never
// blocks: when the queue is full the item is rejected with ErrQueueFull and
// the caller decides what to do with it.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error

	queue   chan T
	metrics *poolMetrics
	wg      *sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	// atomic counters, mirrored to Prometheus when metrics are enabled
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	registry *metric.MetricsRegistry
	prefix   string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports pool metrics under the given name prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// NewPool builds a pool of workers draining a queue of queueSize items into
// process. Non-positive sizes fall back to defaults. A nil process function
// is a programming error and panics.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if process == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_utilization",
			Help: "Worker pool queue utilization (0-1)",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_failed_total",
			Help: "Total work items whose processor returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_dropped_total",
			Help: "Total work items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const svc = "worker_pool"
	p.registry.RegisterGauge(svc, p.prefix+"_queue_depth", m.queueDepth)
	p.registry.RegisterGauge(svc, p.prefix+"_utilization", m.utilization)
	p.registry.RegisterCounter(svc, p.prefix+"_submitted_total", m.submitted)
	p.registry.RegisterCounter(svc, p.prefix+"_processed_total", m.processed)
	p.registry.RegisterCounter(svc, p.prefix+"_failed_total", m.failed)
	p.registry.RegisterCounter(svc, p.prefix+"_dropped_total", m.dropped)
	p.registry.RegisterHistogramVec(svc, p.prefix+"_processing_duration_seconds", m.processingTime)
	p.metrics = m
}

// Start launches the workers. The context bounds their lifetime: when it is
// cancelled workers exit even if the queue still holds items.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	if p.metrics != nil {
		p.wg.Add(1)
		go p.updateGauges(ctx)
	}

	p.started = true
	return nil
}

// Submit enqueues one work item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for the workers to drain
// it. Stopping a never-started or already-stopped pool is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.queue)

	done := make(chan struct{})
	go func() {
		if p.wg != nil {
			p.wg.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats snapshots the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}

			start := time.Now()
			err := p.process(ctx, item)
			elapsed := time.Since(start)

			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}

			if p.metrics != nil {
				p.metrics.processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(elapsed.Seconds())
			}
		}
	}
}

func (p *Pool[T]) updateGauges(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := float64(len(p.queue))
			p.metrics.queueDepth.Set(depth)
			p.metrics.utilization.Set(depth / float64(p.queueSize))
		}
	}
}
