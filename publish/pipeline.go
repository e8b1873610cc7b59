// Package publish runs the ingest pipeline: resolve references, dedupe by
// idempotency key, apply the requested transform, enforce quota, and append
// to the broker. Quota is charged after the transform succeeds and before
// the append, so rejected and failed publishes never consume quota.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/idempotency"
	"github.com/parrishsteve/splatcast/metric"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/queue"
	"github.com/parrishsteve/splatcast/quota"
	"github.com/parrishsteve/splatcast/resolve"
	"github.com/parrishsteve/splatcast/store"
	"github.com/parrishsteve/splatcast/transformer"
)

// eventIDPrefix namespaces event ids so they are recognizable in logs and
// client code regardless of origin.
const eventIDPrefix = "evt_"

// Pipeline wires the publish path end to end. All collaborators are
// required except the audit recorder, which may be nil.
type Pipeline struct {
	resolver *resolve.Resolver
	registry *transformer.Registry
	quotas   *quota.Limiter
	dedup    *idempotency.Cache
	producer queue.Producer
	audit    store.AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	published *prometheus.CounterVec
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAudit attaches an audit recorder; each successful publish appends one
// record. Audit failures are logged, never surfaced to the publisher.
func WithAudit(audit store.AuditRecorder) Option {
	return func(p *Pipeline) {
		p.audit = audit
	}
}

// WithMetricsRegistry exports publish outcome counters.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) {
		if registry == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splatcast_publishes_total",
			Help: "Publish attempts by outcome",
		}, []string{"outcome"})
		if err := registry.RegisterCounterVec("publish", "publishes_total", vec); err == nil {
			p.published = vec
		}
	}
}

// NewPipeline assembles the publish path.
func NewPipeline(
	resolver *resolve.Resolver,
	registry *transformer.Registry,
	quotas *quota.Limiter,
	dedup *idempotency.Cache,
	producer queue.Producer,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		registry: registry,
		quotas:   quotas,
		dedup:    dedup,
		producer: producer,
		logger:   slog.Default().With("component", "publish"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish runs one event through the pipeline. A replayed idempotency key
// short-circuits with the original result before any schema work. Failed
// publishes are never cached, so a client can safely retry the same key.
func (p *Pipeline) Publish(ctx context.Context, appID int64, topicRef model.TopicRef, req model.PublishRequest) (*model.PublishResponse, error) {
	resp, outcome, err := p.publish(ctx, appID, topicRef, req)
	p.count(outcome)
	return resp, err
}

func (p *Pipeline) publish(ctx context.Context, appID int64, topicRef model.TopicRef, req model.PublishRequest) (*model.PublishResponse, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "error", err
	}

	topic, err := p.resolver.Topic(ctx, appID, topicRef)
	if err != nil {
		return nil, "error", err
	}

	if cached, found := p.dedup.Lookup(appID, topic.ID, req.IdempotencyKey); found {
		return cached, "deduplicated", nil
	}

	declared, err := p.resolver.Schema(ctx, appID, req.DeclaredSchema())
	if err != nil {
		return nil, "error", err
	}
	target := declared
	if !req.TargetSchema().IsZero() {
		target, err = p.resolver.Schema(ctx, appID, req.TargetSchema())
		if err != nil {
			return nil, "error", err
		}
	}
	if err := resolve.CheckDefaultSchema(topic, target.ID); err != nil {
		return nil, "error", err
	}

	data := req.Data
	var applied []string
	if target.ID != declared.ID {
		tr, err := p.registry.Find(ctx, topic.ID, &declared.ID, target.ID)
		if err != nil {
			return nil, "error", err
		}
		data, err = p.registry.Apply(ctx, tr, data)
		if err != nil {
			return nil, "error", err
		}
		applied = []string{tr.Name}
	}

	if err := p.quotas.Allow(ctx, appID, topic.ID); err != nil {
		return nil, "error", err
	}

	eventID := eventIDPrefix + p.newID()
	if req.IdempotencyKey != "" {
		eventID = eventIDPrefix + req.IdempotencyKey
	}

	ch := queue.Channel{AppID: appID, TopicID: topic.ID}
	retention := time.Duration(topic.RetentionHours) * time.Hour
	if err := p.producer.EnsureChannel(ctx, ch, retention); err != nil {
		return nil, "error", err
	}

	publishedAt := p.now().UnixMilli()
	ev := &queue.Event{
		ID:                eventID,
		Channel:           ch.String(),
		SchemaID:          target.ID,
		Data:              data,
		PublishedAt:       publishedAt,
		TransformsApplied: applied,
	}
	if err := p.producer.Append(ctx, ch, ev); err != nil {
		return nil, "error", err
	}

	resp := &model.PublishResponse{
		EventID:           eventID,
		TopicID:           topic.ID,
		TopicName:         topic.Name,
		PublishedAt:       publishedAt,
		TransformsApplied: applied,
	}
	p.dedup.Store(appID, topic.ID, req.IdempotencyKey, resp)
	p.recordAudit(ctx, appID, topic, resp)
	return resp, "ok", nil
}

// PublishBatch fans the batch out concurrently. Events are independent:
// each failure is reported with its input index and payload, and the rest
// of the batch proceeds.
func (p *Pipeline) PublishBatch(ctx context.Context, appID int64, topicRef model.TopicRef, batch model.BatchPublishRequest) (*model.BatchPublishResponse, error) {
	if len(batch.Events) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Pipeline", "PublishBatch", "empty batch")
	}

	type slot struct {
		resp *model.PublishResponse
		err  error
	}
	results := make([]slot, len(batch.Events))

	var wg sync.WaitGroup
	for i, ev := range batch.Events {
		wg.Add(1)
		go func(i int, ev model.PublishRequest) {
			defer wg.Done()
			resp, err := p.Publish(ctx, appID, topicRef, ev)
			results[i] = slot{resp: resp, err: err}
		}(i, ev)
	}
	wg.Wait()

	out := &model.BatchPublishResponse{}
	for i, r := range results {
		if r.err != nil {
			out.Failed = append(out.Failed, model.PublishFailure{
				Index: i,
				Error: r.err.Error(),
				Data:  batch.Events[i].Data,
			})
			continue
		}
		out.Published = append(out.Published, *r.resp)
	}
	return out, nil
}

func (p *Pipeline) recordAudit(ctx context.Context, appID int64, topic *model.Topic, resp *model.PublishResponse) {
	if p.audit == nil {
		return
	}
	rec := model.AuditRecord{
		Actor:  "publisher",
		Action: "event.published",
		Target: topic.Name,
		Details: map[string]any{
			"appId":   appID,
			"topicId": topic.ID,
			"eventId": resp.EventID,
		},
		At: resp.PublishedAt,
	}
	if err := p.audit.RecordPublished(ctx, rec); err != nil {
		p.logger.Warn("audit append failed", "event_id", resp.EventID, "error", err)
	}
}

func (p *Pipeline) count(outcome string) {
	if p.published != nil {
		p.published.WithLabelValues(outcome).Inc()
	}
}
