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
	"github.com/parrishsteve/splatcast/queue"
)

// stopTimeout bounds how long Stop waits for the consume loop to drain.
const stopTimeout = 5 * time.Second

// Consumer is an ephemeral JetStream consumer for one channel. It is not
// safe to share a started consumer across channels; each subscriber session
// owns its own.
type Consumer struct {
	client *natsclient.Client
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cc      natsjs.ConsumeContext
}

// Start begins delivering the channel's events to handler. A nil from
// position delivers only events published after the consumer attaches;
// otherwise delivery begins at the first event at or after from. A start
// time past the stream head is valid and simply waits for new events.
// Starting an already running consumer returns ErrAlreadyStarted.
func (c *Consumer) Start(ctx context.Context, ch queue.Channel, from *time.Time, handler queue.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.Wrap(errors.ErrAlreadyStarted, "Consumer", "Start", "state check")
	}

	js, err := c.client.JetStream()
	if err != nil {
		return err
	}

	cfg := natsjs.ConsumerConfig{
		FilterSubject: ch.Subject(),
		AckPolicy:     natsjs.AckExplicitPolicy,
	}
	if from == nil {
		cfg.DeliverPolicy = natsjs.DeliverNewPolicy
	} else {
		cfg.DeliverPolicy = natsjs.DeliverByStartTimePolicy
		cfg.OptStartTime = from
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, ch.StreamName(), cfg)
	if err != nil {
		return errors.WrapTransient(err, "Consumer", "Start", "consumer creation")
	}

	logger := c.logger
	cc, err := cons.Consume(func(msg natsjs.Msg) {
		var ev queue.Event
		if derr := json.Unmarshal(msg.Data(), &ev); derr != nil {
			// Skip undecodable messages rather than redelivering forever.
			logger.Warn("dropping undecodable event",
				"channel", ch.String(), "error", derr)
			_ = msg.Ack()
			return
		}
		handler(&ev)
		_ = msg.Ack()
	})
	if err != nil {
		return errors.WrapTransient(err, "Consumer", "Start", "consume loop start")
	}

	c.cc = cc
	c.running = true
	return nil
}

// Stop halts delivery and waits for the consume loop to finish in-flight
// handlers. A stopped consumer may be started again. Stopping a consumer
// that is not running returns ErrNotStarted.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errors.Wrap(errors.ErrNotStarted, "Consumer", "Stop", "state check")
	}

	c.cc.Stop()
	select {
	case <-c.cc.Closed():
	case <-time.After(stopTimeout):
		c.logger.Warn("consumer stop timed out waiting for drain")
	}

	c.cc = nil
	c.running = false
	return nil
}
