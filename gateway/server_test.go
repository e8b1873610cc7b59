package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrishsteve/splatcast/health"
	"github.com/parrishsteve/splatcast/idempotency"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/publish"
	"github.com/parrishsteve/splatcast/queue"
	"github.com/parrishsteve/splatcast/quota"
	"github.com/parrishsteve/splatcast/resolve"
	"github.com/parrishsteve/splatcast/sandbox"
	"github.com/parrishsteve/splatcast/session"
	"github.com/parrishsteve/splatcast/store"
	"github.com/parrishsteve/splatcast/store/memstore"
	"github.com/parrishsteve/splatcast/transformer"
)

// fakeBus is an in-memory queue.Bus: appends are recorded and fanned out to
// any consumer attached to the same channel.
type fakeBus struct {
	mu        sync.Mutex
	appended  map[string][]*queue.Event
	consumers []*fakeConsumer
}

func newFakeBus() *fakeBus {
	return &fakeBus{appended: make(map[string][]*queue.Event)}
}

func (b *fakeBus) EnsureChannel(_ context.Context, _ queue.Channel, _ time.Duration) error {
	return nil
}

func (b *fakeBus) Append(_ context.Context, ch queue.Channel, ev *queue.Event) error {
	b.mu.Lock()
	b.appended[ch.String()] = append(b.appended[ch.String()], ev)
	consumers := make([]*fakeConsumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		c.deliver(ch, ev)
	}
	return nil
}

func (b *fakeBus) NewConsumer() queue.Consumer {
	c := &fakeConsumer{}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
	return c
}

func (b *fakeBus) eventCount(ch queue.Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.appended[ch.String()])
}

type fakeConsumer struct {
	mu      sync.Mutex
	running bool
	channel queue.Channel
	handler queue.Handler
}

func (c *fakeConsumer) Start(_ context.Context, ch queue.Channel, _ *time.Time, handler queue.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.channel = ch
	c.handler = handler
	return nil
}

func (c *fakeConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.handler = nil
	return nil
}

func (c *fakeConsumer) deliver(ch queue.Channel, ev *queue.Event) {
	c.mu.Lock()
	handler := c.handler
	match := c.running && c.channel == ch
	c.mu.Unlock()
	if match && handler != nil {
		handler(ev)
	}
}

type fixture struct {
	server   *Server
	store    *memstore.Store
	bus      *fakeBus
	registry *transformer.Registry
	app      *model.App
	topic    *model.Topic
	v1       *model.Schema
	v2       *model.Schema
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st := memstore.New()
	app := st.PutApp(model.App{Name: "acme"})
	topic := st.PutTopic(model.Topic{AppID: app.ID, Name: "orders", RetentionHours: 48})
	v1, err := st.PutSchema(model.Schema{
		AppID:    app.ID,
		Name:     "orders.v1",
		Status:   model.SchemaActive,
		Document: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	v2, err := st.PutSchema(model.Schema{
		AppID:    app.ID,
		Name:     "orders.v2",
		Status:   model.SchemaActive,
		Document: map[string]any{"type": "object"},
	})
	require.NoError(t, err)

	exec, err := sandbox.New(2, 16, 32)
	require.NoError(t, err)
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Stop(time.Second) })

	resolver := resolve.New(st, st)
	registry := transformer.NewRegistry(st, st, exec)
	limiter := quota.NewLimiter(st)
	st.OnQuotaChange = limiter.InvalidateCache
	dedup, err := idempotency.NewWithTTL(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dedup.Close() })

	bus := newFakeBus()
	pipeline := publish.NewPipeline(resolver, registry, limiter, dedup, bus, publish.WithAudit(st))
	hub := session.NewHub(bus)
	t.Cleanup(hub.Shutdown)

	srv, err := NewServer(cfg, store.Stores{
		Apps:         st,
		Topics:       st,
		Schemas:      st,
		Transformers: st,
		Audit:        st,
	}, resolver, pipeline, registry, hub)
	require.NoError(t, err)

	return &fixture{
		server:   srv,
		store:    st,
		bus:      bus,
		registry: registry,
		app:      app,
		topic:    topic,
		v1:       v1,
		v2:       v2,
	}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.request(t, http.MethodPost, path, body)
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg = Config{Addr: ":0", EnableCORS: true}
	assert.Error(t, cfg.Validate())

	cfg = Config{Addr: ":0"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestPublishEndpoint(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/publish", model.PublishRequest{
		SchemaName: "orders.v1",
		Data:       map[string]any{"orderId": "o-1", "total": 12.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[model.PublishResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.EventID, "evt_"))
	assert.Equal(t, f.topic.ID, resp.TopicID)
	assert.Equal(t, "orders", resp.TopicName)
	assert.Equal(t, 1, f.bus.eventCount(queue.Channel{AppID: f.app.ID, TopicID: f.topic.ID}))
}

func TestPublishEndpoint_ByNumericIDs(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	path := fmt.Sprintf("/v1/apps/%d/topics/%d/publish", f.app.ID, f.topic.ID)
	rec := f.post(t, path, model.PublishRequest{
		SchemaID: &f.v1.ID,
		Data:     map[string]any{"orderId": "o-2"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishEndpoint_ErrorStatuses(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	valid := model.PublishRequest{SchemaName: "orders.v1", Data: map[string]any{"x": 1}}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{
			name:   "unknown app",
			path:   "/v1/apps/ghost/topics/orders/publish",
			body:   valid,
			status: http.StatusNotFound,
		},
		{
			name:   "unknown topic",
			path:   "/v1/apps/acme/topics/ghost/publish",
			body:   valid,
			status: http.StatusNotFound,
		},
		{
			name:   "unknown schema",
			path:   "/v1/apps/acme/topics/orders/publish",
			body:   model.PublishRequest{SchemaName: "ghost.v1", Data: map[string]any{"x": 1}},
			status: http.StatusNotFound,
		},
		{
			name:   "missing schema reference",
			path:   "/v1/apps/acme/topics/orders/publish",
			body:   model.PublishRequest{Data: map[string]any{"x": 1}},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing data",
			path:   "/v1/apps/acme/topics/orders/publish",
			body:   model.PublishRequest{SchemaName: "orders.v1"},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			body := decodeResponse[map[string]any](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPublishEndpoint_MalformedBody(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/apps/acme/topics/orders/publish",
		strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishEndpoint_BodyTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestSize = 128
	f := newFixture(t, cfg)

	rec := f.post(t, "/v1/apps/acme/topics/orders/publish", model.PublishRequest{
		SchemaName: "orders.v1",
		Data:       map[string]any{"blob": strings.Repeat("x", 512)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishEndpoint_QuotaExceeded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.store.SetTopicQuotas(f.app.ID, f.topic.ID,
		&model.QuotaSettings{PerMinute: 1, PerDay: 100}))

	body := model.PublishRequest{SchemaName: "orders.v1", Data: map[string]any{"x": 1}}
	rec := f.post(t, "/v1/apps/acme/topics/orders/publish", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/v1/apps/acme/topics/orders/publish", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPublishEndpoint_Idempotency(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	body := model.PublishRequest{
		SchemaName:     "orders.v1",
		Data:           map[string]any{"x": 1},
		IdempotencyKey: "client-key-1",
	}
	first := decodeResponse[model.PublishResponse](t, f.post(t, "/v1/apps/acme/topics/orders/publish", body))
	second := decodeResponse[model.PublishResponse](t, f.post(t, "/v1/apps/acme/topics/orders/publish", body))

	assert.Equal(t, "evt_client-key-1", first.EventID)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.bus.eventCount(queue.Channel{AppID: f.app.ID, TopicID: f.topic.ID}))
}

func TestPublishBatchEndpoint(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/publish/batch", model.BatchPublishRequest{
		Events: []model.PublishRequest{
			{SchemaName: "orders.v1", Data: map[string]any{"n": 1}},
			{SchemaName: "orders.v1", Data: map[string]any{"n": 2}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[model.BatchPublishResponse](t, rec)
	assert.Len(t, resp.Published, 2)
	assert.Empty(t, resp.Failed)
}

func TestPublishBatchEndpoint_PartialFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/publish/batch", model.BatchPublishRequest{
		Events: []model.PublishRequest{
			{SchemaName: "orders.v1", Data: map[string]any{"n": 1}},
			{SchemaName: "ghost.v1", Data: map[string]any{"n": 2}},
		},
	})
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	resp := decodeResponse[model.BatchPublishResponse](t, rec)
	assert.Len(t, resp.Published, 1)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, 1, resp.Failed[0].Index)
	assert.NotEmpty(t, resp.Failed[0].Error)
}

func TestPublishBatchEndpoint_Empty(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/publish/batch", model.BatchPublishRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const upperScript = `
def transform(event):
    out = dict(event)
    out["orderId"] = event["orderId"].upper()
    return out
`

func TestTransformerEndpoints(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/transformers", transformerCreateBody{
		Name:         "v1-to-v2",
		FromSchemaID: &f.v1.ID,
		ToSchemaID:   f.v2.ID,
		Code:         upperScript,
		Enabled:      true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeResponse[model.Transformer](t, rec)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.CodeHash)

	// Test endpoint runs the stored code against a sample payload.
	testPath := fmt.Sprintf("/v1/apps/acme/topics/orders/transformers/%d/test", created.ID)
	rec = f.post(t, testPath, transformerTestBody{Data: map[string]any{"orderId": "o-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeResponse[map[string]any](t, rec)
	result, ok := out["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "O-1", result["orderId"])

	// Disable it, then verify a transforming publish no longer finds it.
	disabled := false
	updatePath := fmt.Sprintf("/v1/apps/acme/topics/orders/transformers/%d", created.ID)
	rec = f.request(t, http.MethodPatch, updatePath, transformerUpdateBody{Enabled: &disabled})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeResponse[model.Transformer](t, rec)
	assert.False(t, updated.Enabled)

	rec = f.post(t, "/v1/apps/acme/topics/orders/publish", model.PublishRequest{
		SchemaName:            "orders.v1",
		TransformToSchemaName: "orders.v2",
		Data:                  map[string]any{"orderId": "o-2"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransformerCreate_BadScript(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	rec := f.post(t, "/v1/apps/acme/topics/orders/transformers", transformerCreateBody{
		Name:       "broken",
		ToSchemaID: f.v2.ID,
		Code:       "def transform(event:\n  return",
		Enabled:    true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransformerCreate_DuplicateConflict(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	body := transformerCreateBody{
		Name:         "v1-to-v2",
		FromSchemaID: &f.v1.ID,
		ToSchemaID:   f.v2.ID,
		Code:         upperScript,
		Enabled:      true,
	}
	rec := f.post(t, "/v1/apps/acme/topics/orders/transformers", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.post(t, "/v1/apps/acme/topics/orders/transformers", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthEndpoint_ReportsDependencyHealth(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	monitor := health.NewMonitor()
	f.server.monitor = monitor

	monitor.UpdateUnhealthy("nats", "connection lost")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeResponse[map[string]any](t, rec)
	assert.Equal(t, "unhealthy", body["status"])

	monitor.UpdateHealthy("nats", "connected")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeResponse[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestCORSHeaders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"https://app.example.com"}
	f := newFixture(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/v1/apps/acme/topics/orders/publish", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/v1/apps/acme/topics/orders/publish", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
