// Package jetstream backs the queue contracts with NATS JetStream. Each
// channel gets its own file-backed stream whose MaxAge carries the topic's
// retention; replay consumers are ephemeral and positioned by start time.
package jetstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/natsclient"
	"github.com/parrishsteve/splatcast/pkg/retry"
	"github.com/parrishsteve/splatcast/queue"
)

// DefaultRetention applies when a topic has no retention configured.
const DefaultRetention = 7 * 24 * time.Hour

// Bus implements queue.Bus over a NATS client. Stream provisioning is
// memoized per channel so the publish path only pays the round trip once.
type Bus struct {
	client   *natsclient.Client
	logger   *slog.Logger
	retryCfg retry.Config

	mu      sync.Mutex
	ensured map[string]bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRetryConfig overrides the backoff used for provisioning and appends.
func WithRetryConfig(cfg retry.Config) Option {
	return func(b *Bus) {
		b.retryCfg = cfg
	}
}

// NewBus creates a Bus over a connected NATS client.
func NewBus(client *natsclient.Client, opts ...Option) *Bus {
	b := &Bus{
		client:   client,
		logger:   slog.Default().With("component", "queue"),
		retryCfg: retry.DefaultConfig(),
		ensured:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureChannel provisions the channel's stream with the given retention.
// Safe to call repeatedly; a retention change updates the existing stream.
func (b *Bus) EnsureChannel(ctx context.Context, ch queue.Channel, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultRetention
	}

	b.mu.Lock()
	if b.ensured[ch.String()] {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	cfg := natsjs.StreamConfig{
		Name:     ch.StreamName(),
		Subjects: []string{ch.Subject()},
		MaxAge:   retention,
		Storage:  natsjs.FileStorage,
	}

	err := retry.Do(ctx, b.retryCfg, func() error {
		if _, cerr := b.client.CreateStream(ctx, cfg); cerr != nil {
			if errors.Is(cerr, natsjs.ErrStreamNameAlreadyInUse) {
				return retry.NonRetryable(b.updateStream(ctx, cfg))
			}
			return cerr
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Bus", "EnsureChannel", "stream provisioning")
	}

	b.mu.Lock()
	b.ensured[ch.String()] = true
	b.mu.Unlock()

	b.logger.Debug("channel stream ensured", "channel", ch.String(), "retention", retention)
	return nil
}

func (b *Bus) updateStream(ctx context.Context, cfg natsjs.StreamConfig) error {
	js, err := b.client.JetStream()
	if err != nil {
		return err
	}
	_, err = js.UpdateStream(ctx, cfg)
	return err
}

// Append durably publishes one event to the channel's stream. Transient
// broker failures are retried; a final failure surfaces as ErrQueuePublish
// so callers can report the broker as the failing hop.
func (b *Bus) Append(ctx context.Context, ch queue.Channel, ev *queue.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "Bus", "Append", "event encoding")
	}

	err = retry.Do(ctx, b.retryCfg, func() error {
		return b.client.PublishToStream(ctx, ch.Subject(), data)
	})
	if err != nil {
		b.logger.Error("event append failed",
			"channel", ch.String(), "event_id", ev.ID, "error", err)
		return errors.Wrap(errors.ErrQueuePublish, "Bus", "Append", "stream append")
	}
	return nil
}

// NewConsumer returns an unstarted consumer bound to this bus's client.
func (b *Bus) NewConsumer() queue.Consumer {
	return &Consumer{
		client: b.client,
		logger: b.logger,
	}
}
