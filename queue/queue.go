// Package queue defines the broker contracts the gateway core publishes to
// and consumes from. A channel is one app/topic pair; each channel maps to
// its own stream with the topic's retention, so dropping a topic drops its
// history with it.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Channel identifies one app/topic event stream.
type Channel struct {
	AppID   int64
	TopicID int64
}

// String renders the canonical channel key.
func (c Channel) String() string {
	return fmt.Sprintf("%d__%d", c.AppID, c.TopicID)
}

// Subject is the broker subject events for this channel are published on.
func (c Channel) Subject() string {
	return fmt.Sprintf("events.%d.%d", c.AppID, c.TopicID)
}

// StreamName is the per-channel stream. Subjects use dots for hierarchy;
// stream names cannot, so the key form is used.
func (c Channel) StreamName() string {
	return fmt.Sprintf("events-%d-%d", c.AppID, c.TopicID)
}

// Event is the durable envelope appended to a channel. Data holds the
// payload after any transform; TransformsApplied names the transformers
// that produced it, in order.
type Event struct {
	ID                string         `json:"id"`
	Channel           string         `json:"channel"`
	SchemaID          int64          `json:"schemaId"`
	Data              map[string]any `json:"data"`
	PublishedAt       int64          `json:"publishedAt"`
	TransformsApplied []string       `json:"transformsApplied,omitempty"`
}

// Producer appends events to channels. EnsureChannel is idempotent and must
// be called before the first append for a channel.
type Producer interface {
	EnsureChannel(ctx context.Context, ch Channel, retention time.Duration) error
	Append(ctx context.Context, ch Channel, ev *Event) error
}

// Handler receives consumed events in stream order.
type Handler func(ev *Event)

// Consumer delivers a channel's events to a handler. Start with a nil from
// position delivers new events only; a position replays from that time
// onward, and a position past the stream's head delivers nothing until new
// events arrive. A consumer may be restarted after Stop; starting a running
// consumer is an error.
type Consumer interface {
	Start(ctx context.Context, ch Channel, from *time.Time, handler Handler) error
	Stop() error
}

// Bus is the full broker surface: append side plus consumer construction.
type Bus interface {
	Producer
	NewConsumer() Consumer
}
