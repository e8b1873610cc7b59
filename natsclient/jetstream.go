package natsclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/parrishsteve/splatcast/errors"
)

// JetStream operations go through guarded, which enforces the circuit
// breaker and connection state before touching the broker.

func (c *Client) guarded() (jetstream.JetStream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	js, err := c.JetStream()
	if err != nil {
		c.noteFailure()
		return nil, err
	}
	return js, nil
}

// JetStream returns the JetStream context established by Connect.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}

	return c.js, nil
}

// CreateStream creates or updates a stream and registers it with the
// metrics poller.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.guarded()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateStream(ctx, cfg)
	if err != nil {
		c.noteFailure()
		c.jsMetrics.recordError("create_stream")
		return nil, err
	}

	c.clearCircuit()
	c.jsMetrics.trackStream(cfg.Name, stream)

	return stream, nil
}

// GetStream looks up an existing stream by name.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	js, err := c.guarded()
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	if err != nil {
		c.noteFailure()
		c.jsMetrics.recordError("get_stream")
		return nil, err
	}

	c.clearCircuit()
	c.jsMetrics.trackStream(name, stream)

	return stream, nil
}

// PublishToStream publishes a message with JetStream persistence,
// waiting for the broker's ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.guarded()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.noteFailure()
		return err
	}

	c.clearCircuit()
	return nil
}

// ConsumeStream attaches a push consumer to a stream, filtered to
// subject, acking each message after the handler returns. A second call
// for the same stream and subject replaces the earlier consumer.
func (c *Client) ConsumeStream(ctx context.Context, streamName, subject string, handler func([]byte)) error {
	js, err := c.guarded()
	if err != nil {
		return err
	}

	if c.closed.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("client is closed"),
			"Client", "ConsumeStream", "check client state")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
	})
	if err != nil {
		c.noteFailure()
		c.jsMetrics.recordError("create_consumer")
		return err
	}

	if info, err := consumer.Info(ctx); err == nil {
		c.jsMetrics.trackConsumer(streamName, info.Name, consumer)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
		msg.Ack()
	})
	if err != nil {
		c.noteFailure()
		return err
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	// Close may have started while the consumer was being set up.
	if c.closed.Load() {
		consumeCtx.Stop()
		return errors.WrapInvalid(
			fmt.Errorf("client is closing"),
			"Client", "ConsumeStream", "check client state during consumer registration")
	}

	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := fmt.Sprintf("%s:%s", streamName, subject)
	if existing, ok := c.consumers[key]; ok {
		existing.Stop()
		c.logger.Debugf("Replaced existing consumer for %s", key)
	}
	c.consumers[key] = consumeCtx

	c.clearCircuit()
	return nil
}

// CreateKeyValueBucket returns the named bucket, creating it when it
// does not exist yet. Losing a create race to another client is fine;
// the existing bucket is returned.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.guarded()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.logger.Printf("Using existing KV bucket: %s", cfg.Bucket)
		c.clearCircuit()
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				c.noteFailure()
				return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
					fmt.Sprintf("access existing bucket %s", cfg.Bucket))
			}
			c.logger.Printf("KV bucket %s was created concurrently, using it", cfg.Bucket)
			c.clearCircuit()
			return bucket, nil
		}
		c.noteFailure()
		return nil, err
	}

	c.logger.Printf("Created new KV bucket: %s", cfg.Bucket)
	c.clearCircuit()
	return bucket, nil
}

// GetKeyValueBucket looks up an existing bucket by name.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.guarded()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.noteFailure()
		return nil, err
	}

	c.clearCircuit()
	return bucket, nil
}

// DeleteKeyValueBucket removes a bucket and all its keys.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.guarded()
	if err != nil {
		return err
	}

	if err := js.DeleteKeyValue(ctx, name); err != nil {
		c.noteFailure()
		return err
	}

	c.clearCircuit()
	return nil
}

// ListKeyValueBuckets returns the names of all KV buckets on the broker.
// Buckets are streams named with a KV_ prefix.
func (c *Client) ListKeyValueBuckets(ctx context.Context) ([]string, error) {
	js, err := c.guarded()
	if err != nil {
		return nil, err
	}

	names := []string{}
	lister := js.ListStreams(ctx)
	for stream := range lister.Info() {
		if stream == nil {
			continue
		}
		if name, ok := strings.CutPrefix(stream.Config.Name, "KV_"); ok && name != "" {
			names = append(names, name)
		}
	}
	if err := lister.Err(); err != nil {
		c.noteFailure()
		return nil, err
	}

	c.clearCircuit()
	return names, nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}
