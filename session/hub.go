package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/metric"
	"github.com/parrishsteve/splatcast/queue"
)

// Hub owns the live subscriber sessions. Sessions self-deregister when they
// close, so the hub's view is always the set of deliverable subscribers.
type Hub struct {
	bus    queue.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	active prometheus.Gauge
	opened prometheus.Counter
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetricsRegistry exports session gauges.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) {
		if registry == nil {
			return
		}
		active := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splatcast_sessions_active",
			Help: "Currently connected subscriber sessions",
		})
		opened := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splatcast_sessions_opened_total",
			Help: "Subscriber sessions opened since start",
		})
		if err := registry.RegisterGauge("session", "active", active); err == nil {
			h.active = active
		}
		if err := registry.RegisterCounter("session", "opened_total", opened); err == nil {
			h.opened = opened
		}
	}
}

// NewHub creates a Hub over the given bus.
func NewHub(bus queue.Bus, opts ...Option) *Hub {
	h := &Hub{
		bus:      bus,
		logger:   slog.Default().With("component", "session"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SessionOption configures one session at creation.
type SessionOption func(*Session)

// WithMapper installs a per-subscriber event mapper.
func WithMapper(m Mapper) SessionOption {
	return func(s *Session) {
		s.mapper = m
	}
}

// Create opens a session for a channel and starts delivery to conn. A nil
// from tails new events; a position replays from that time. The caller owns
// conn until Create succeeds; afterwards the session closes it.
func (h *Hub) Create(ctx context.Context, ch queue.Channel, conn Conn, from *time.Time, opts ...SessionOption) (*Session, error) {
	s := &Session{
		ID:       uuid.NewString(),
		Channel:  ch,
		consumer: h.bus.NewConsumer(),
		conn:     conn,
		logger:   h.logger,
		onClose:  h.remove,
		dispatch: make(chan *queue.Event, dispatchQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.start(ctx, from); err != nil {
		return nil, errors.WrapTransient(err, "Hub", "Create", "session start")
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	if h.active != nil {
		h.active.Inc()
	}
	if h.opened != nil {
		h.opened.Inc()
	}
	h.logger.Info("session opened", "session_id", s.ID, "channel", ch.String())
	return s, nil
}

// Destroy closes a session by id. An unknown id is a logged no-op so
// teardown paths can be fired unconditionally.
func (h *Hub) Destroy(id string) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("destroy for unknown session", "session_id", id)
		return
	}
	s.Close()
}

// Get returns a live session by id.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count reports the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CountForApp reports the live sessions subscribed to one app's topics.
func (h *Hub) CountForApp(appID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if s.Channel.AppID == appID {
			n++
		}
	}
	return n
}

// Shutdown closes every live session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()

	for _, s := range open {
		s.Close()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if ok {
		if h.active != nil {
			h.active.Dec()
		}
		h.logger.Info("session closed", "session_id", id)
	}
}
