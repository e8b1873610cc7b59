// Package quota enforces per-topic publish rate limits. Limits are opt-in:
// a topic without quota settings publishes unbounded. Counters roll over
// lazily on fixed minute and day windows, so an idle topic costs nothing
// between publishes.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/metric"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/store"
)

// Limiter tracks publish counts per app:topic pair and rejects publishes
// that would exceed the topic's per-minute or per-day limit. Limits are
// loaded from the topic store on first use and cached until invalidated.
type Limiter struct {
	topics store.TopicStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter

	rejections *prometheus.CounterVec
}

// counter holds the rolling windows for one app:topic pair. Each counter
// has its own lock so hot topics do not serialize against each other.
type counter struct {
	mu sync.Mutex

	limits       *model.QuotaSettings
	limitsLoaded bool

	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetricsRegistry exports a rejection counter labeled by window.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(l *Limiter) {
		if registry == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splatcast_quota_rejections_total",
			Help: "Publishes rejected by quota enforcement",
		}, []string{"window"})
		if err := registry.RegisterCounterVec("quota", "rejections_total", vec); err == nil {
			l.rejections = vec
		}
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter backed by the given topic store.
func NewLimiter(topics store.TopicStore, opts ...Option) *Limiter {
	l := &Limiter{
		topics:   topics,
		logger:   slog.Default().With("component", "quota"),
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one publish against the topic's quota. It returns
// ErrQuotaExceeded when either window is exhausted; the count is only
// consumed when the publish is admitted.
func (l *Limiter) Allow(ctx context.Context, appID, topicID int64) error {
	c := l.counter(appID, topicID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.limitsLoaded {
		topic, err := l.topics.TopicByID(ctx, appID, topicID)
		if err != nil {
			return err
		}
		c.limits = topic.Quotas
		c.limitsLoaded = true
	}
	if c.limits == nil {
		return nil
	}

	now := l.now()
	if c.minuteStart.IsZero() || now.Sub(c.minuteStart) >= time.Minute {
		c.minuteStart = now
		c.minuteCount = 0
	}
	if c.dayStart.IsZero() || now.Sub(c.dayStart) >= 24*time.Hour {
		c.dayStart = now
		c.dayCount = 0
	}

	if c.limits.PerMinute > 0 && c.minuteCount >= c.limits.PerMinute {
		l.reject(appID, topicID, "minute")
		return errors.Wrap(errors.ErrQuotaExceeded, "Limiter", "Allow", "per-minute quota check")
	}
	if c.limits.PerDay > 0 && c.dayCount >= c.limits.PerDay {
		l.reject(appID, topicID, "day")
		return errors.Wrap(errors.ErrQuotaExceeded, "Limiter", "Allow", "per-day quota check")
	}

	c.minuteCount++
	c.dayCount++
	return nil
}

// InvalidateCache drops the cached limits and counters for a topic. Called
// when a topic's quota settings change so the next publish reloads them.
func (l *Limiter) InvalidateCache(appID, topicID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, key(appID, topicID))
}

func (l *Limiter) counter(appID, topicID int64) *counter {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(appID, topicID)
	c, ok := l.counters[k]
	if !ok {
		c = &counter{}
		l.counters[k] = c
	}
	return c
}

func (l *Limiter) reject(appID, topicID int64, window string) {
	l.logger.Debug("publish rejected by quota",
		"app_id", appID, "topic_id", topicID, "window", window)
	if l.rejections != nil {
		l.rejections.WithLabelValues(window).Inc()
	}
}

func key(appID, topicID int64) string {
	return fmt.Sprintf("%d:%d", appID, topicID)
}
