// Package natskv persists the gateway's records in a JetStream key-value
// bucket. Records are stored one key per record with JSON bodies; name
// lookups go through per-scope index maps maintained with CAS updates, so
// concurrent writers cannot lose index entries.
//
// Key layout:
//
//	seq                          id allocator
//	apps.<id>                    app record
//	index.apps                   app name -> id
//	topics.<id>                  topic record
//	index.topics.<appID>         topic name -> id
//	schemas.<id>                 schema record
//	index.schemas.<appID>        schema name -> id
//	transformers.<id>            transformer record
//	index.transformers.<topicID> transformer ids in the topic
//	audit.<uuid>                 audit record
package natskv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/natsclient"
	"github.com/parrishsteve/splatcast/pkg/timestamp"
)

// defaultHistory keeps enough revisions per key for point-in-time reads
// to answer "what did this record say when that event was published".
const defaultHistory = 10

// Config sizes the backing bucket. History below 1 falls back to
// defaultHistory; a history of 1 disables point-in-time reads.
type Config struct {
	Bucket   string
	History  int
	MaxBytes int64
	Replicas int
}

// Store implements the store contracts over a NATS KV bucket.
type Store struct {
	kv       *natsclient.KVStore
	temporal *natsclient.TemporalResolver
	logger   *slog.Logger

	// OnQuotaChange, when set, is invoked after SetTopicQuotas so the quota
	// limiter can drop its cached settings for the key.
	OnQuotaChange func(appID, topicID int64)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates or opens the bucket and returns a store over it.
func New(ctx context.Context, client *natsclient.Client, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = "splatcast_store"
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		History:  uint8(cfg.History),
		MaxBytes: cfg.MaxBytes,
		Replicas: cfg.Replicas,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "New", "bucket create")
	}

	s := &Store{
		kv:       client.NewKVStore(bucket),
		temporal: natsclient.NewTemporalResolver(ctx, bucket),
		logger:   slog.Default().With("component", "natskv"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("kv store ready", "bucket", cfg.Bucket, "history", cfg.History)
	return s, nil
}

// Close releases the history cache behind point-in-time reads.
func (s *Store) Close() error {
	return s.temporal.Close()
}

// allocID reserves the next record id through a CAS counter.
func (s *Store) allocID(ctx context.Context) (int64, error) {
	var id int64
	err := s.kv.UpdateJSON(ctx, "seq", func(current map[string]any) error {
		next := int64(1)
		if v, ok := current["next"].(float64); ok {
			next = int64(v) + 1
		}
		current["next"] = next
		id = next
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "allocID", "sequence update")
	}
	return id, nil
}

func (s *Store) getRecord(ctx context.Context, key string, out any) (bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Store", "getRecord", "kv get")
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, errors.WrapInvalid(err, "Store", "getRecord", "record decode")
	}
	return true, nil
}

func (s *Store) putRecord(ctx context.Context, key string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "putRecord", "record encode")
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "Store", "putRecord", "kv put")
	}
	return nil
}

// recordAt decodes the revision of key that was current at the given
// time. Only revisions still inside the bucket's history window are
// reachable; an older position resolves to the oldest kept revision.
func (s *Store) recordAt(ctx context.Context, key string, at time.Time, out any) (bool, error) {
	entry, err := s.temporal.GetAtTimestamp(ctx, key, at)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Store", "recordAt", "history lookup")
	}
	if entry.Operation() != jetstream.KeyValuePut {
		// The key was deleted at that point in time.
		return false, nil
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return false, errors.WrapInvalid(err, "Store", "recordAt", "record decode")
	}
	return true, nil
}

// indexPut adds name -> id to the index map at key.
func (s *Store) indexPut(ctx context.Context, key, name string, id int64) error {
	err := s.kv.UpdateJSON(ctx, key, func(current map[string]any) error {
		current[name] = id
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "indexPut", "index update")
	}
	return nil
}

// indexLookup resolves a name through the index map at key.
func (s *Store) indexLookup(ctx context.Context, key, name string) (int64, bool, error) {
	var index map[string]int64
	found, err := s.getRecord(ctx, key, &index)
	if err != nil || !found {
		return 0, false, err
	}
	id, ok := index[name]
	return id, ok, nil
}

// PutApp stores an app, assigning an id when none is set.
func (s *Store) PutApp(ctx context.Context, app model.App) (*model.App, error) {
	if app.ID == 0 {
		id, err := s.allocID(ctx)
		if err != nil {
			return nil, err
		}
		app.ID = id
	}
	if app.CreatedAt == 0 {
		app.CreatedAt = timestamp.Now()
	}
	app.UpdatedAt = timestamp.Now()

	if err := s.putRecord(ctx, appKey(app.ID), &app); err != nil {
		return nil, err
	}
	if err := s.indexPut(ctx, "index.apps", app.Name, app.ID); err != nil {
		return nil, err
	}
	return &app, nil
}

// AppByID implements store.AppStore.
func (s *Store) AppByID(ctx context.Context, id int64) (*model.App, error) {
	var app model.App
	found, err := s.getRecord(ctx, appKey(id), &app)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrap(errors.ErrAppNotFound, "Store", "AppByID", "app lookup")
	}
	return &app, nil
}

// AppByName implements store.AppStore.
func (s *Store) AppByName(ctx context.Context, name string) (*model.App, error) {
	id, ok, err := s.indexLookup(ctx, "index.apps", name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrAppNotFound, "Store", "AppByName", "app lookup")
	}
	return s.AppByID(ctx, id)
}

// PutTopic stores a topic, assigning an id when none is set.
func (s *Store) PutTopic(ctx context.Context, topic model.Topic) (*model.Topic, error) {
	if topic.ID == 0 {
		id, err := s.allocID(ctx)
		if err != nil {
			return nil, err
		}
		topic.ID = id
	}
	if topic.RetentionHours == 0 {
		topic.RetentionHours = 168
	}
	if topic.CreatedAt == 0 {
		topic.CreatedAt = timestamp.Now()
	}
	topic.UpdatedAt = timestamp.Now()

	if err := s.putRecord(ctx, topicKey(topic.ID), &topic); err != nil {
		return nil, err
	}
	if err := s.indexPut(ctx, topicIndexKey(topic.AppID), topic.Name, topic.ID); err != nil {
		return nil, err
	}
	return &topic, nil
}

// TopicByID implements store.TopicStore. The app id must match; topics are
// never visible across tenants.
func (s *Store) TopicByID(ctx context.Context, appID, id int64) (*model.Topic, error) {
	var topic model.Topic
	found, err := s.getRecord(ctx, topicKey(id), &topic)
	if err != nil {
		return nil, err
	}
	if !found || topic.AppID != appID {
		return nil, errors.Wrap(errors.ErrTopicNotFound, "Store", "TopicByID", "topic lookup")
	}
	return &topic, nil
}

// TopicByName implements store.TopicStore.
func (s *Store) TopicByName(ctx context.Context, appID int64, name string) (*model.Topic, error) {
	id, ok, err := s.indexLookup(ctx, topicIndexKey(appID), name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrTopicNotFound, "Store", "TopicByName", "topic lookup")
	}
	return s.TopicByID(ctx, appID, id)
}

// TopicAt returns the topic record as it stood at the given time. Replayed
// events are interpreted against the quota and retention settings that were
// live when they entered the stream.
func (s *Store) TopicAt(ctx context.Context, appID, id int64, at time.Time) (*model.Topic, error) {
	var topic model.Topic
	found, err := s.recordAt(ctx, topicKey(id), at, &topic)
	if err != nil {
		return nil, err
	}
	if !found || topic.AppID != appID {
		return nil, errors.Wrap(errors.ErrTopicNotFound, "Store", "TopicAt", "topic history lookup")
	}
	return &topic, nil
}

// SetTopicQuotas replaces a topic's quota settings and fires the
// invalidation hook so cached limiter state is dropped.
func (s *Store) SetTopicQuotas(ctx context.Context, appID, topicID int64, quotas *model.QuotaSettings) error {
	topic, err := s.TopicByID(ctx, appID, topicID)
	if err != nil {
		return err
	}
	topic.Quotas = quotas
	topic.UpdatedAt = timestamp.Now()
	if err := s.putRecord(ctx, topicKey(topicID), topic); err != nil {
		return err
	}

	if hook := s.OnQuotaChange; hook != nil {
		hook(appID, topicID)
	}
	return nil
}

// PutSchema stores a schema, assigning an id when none is set. New schemas
// default to active.
func (s *Store) PutSchema(ctx context.Context, schema model.Schema) (*model.Schema, error) {
	if schema.Status == "" {
		schema.Status = model.SchemaActive
	}
	if !schema.Status.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Store", "PutSchema", "unknown schema status")
	}
	if schema.ID == 0 {
		id, err := s.allocID(ctx)
		if err != nil {
			return nil, err
		}
		schema.ID = id
	}
	if schema.CreatedAt == 0 {
		schema.CreatedAt = timestamp.Now()
	}

	if err := s.putRecord(ctx, schemaKey(schema.ID), &schema); err != nil {
		return nil, err
	}
	if err := s.indexPut(ctx, schemaIndexKey(schema.AppID), schema.Name, schema.ID); err != nil {
		return nil, err
	}
	return &schema, nil
}

// SchemaByID implements store.SchemaStore.
func (s *Store) SchemaByID(ctx context.Context, appID, id int64) (*model.Schema, error) {
	var schema model.Schema
	found, err := s.getRecord(ctx, schemaKey(id), &schema)
	if err != nil {
		return nil, err
	}
	if !found || schema.AppID != appID {
		return nil, errors.Wrap(errors.ErrSchemaNotFound, "Store", "SchemaByID", "schema lookup")
	}
	return &schema, nil
}

// SchemaByName implements store.SchemaStore.
func (s *Store) SchemaByName(ctx context.Context, appID int64, name string) (*model.Schema, error) {
	id, ok, err := s.indexLookup(ctx, schemaIndexKey(appID), name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrSchemaNotFound, "Store", "SchemaByName", "schema lookup")
	}
	return s.SchemaByID(ctx, appID, id)
}

// SchemaAt returns the schema record as it stood at the given time, so a
// replay consumer can see the definition events were validated against.
func (s *Store) SchemaAt(ctx context.Context, appID, id int64, at time.Time) (*model.Schema, error) {
	var schema model.Schema
	found, err := s.recordAt(ctx, schemaKey(id), at, &schema)
	if err != nil {
		return nil, err
	}
	if !found || schema.AppID != appID {
		return nil, errors.Wrap(errors.ErrSchemaNotFound, "Store", "SchemaAt", "schema history lookup")
	}
	return &schema, nil
}

// SetSchemaStatus advances a schema's lifecycle state. Reverse transitions
// are rejected.
func (s *Store) SetSchemaStatus(ctx context.Context, appID, id int64, status model.SchemaStatus) error {
	schema, err := s.SchemaByID(ctx, appID, id)
	if err != nil {
		return err
	}
	if !schema.Status.CanTransitionTo(status) {
		return errors.Wrap(errors.ErrInvalidTransition, "Store", "SetSchemaStatus", "lifecycle check")
	}
	schema.Status = status
	return s.putRecord(ctx, schemaKey(id), schema)
}

// DeleteSchema removes a schema. Only drafts are deletable.
func (s *Store) DeleteSchema(ctx context.Context, appID, id int64) error {
	schema, err := s.SchemaByID(ctx, appID, id)
	if err != nil {
		return err
	}
	if !schema.Status.Deletable() {
		return errors.Wrap(errors.ErrInvalidTransition, "Store", "DeleteSchema", "only draft schemas may be deleted")
	}
	if err := s.kv.Delete(ctx, schemaKey(id)); err != nil {
		return errors.WrapTransient(err, "Store", "DeleteSchema", "kv delete")
	}
	// Index entries for deleted drafts are left behind; lookups through
	// them fail on the record fetch, matching a plain not-found.
	return nil
}

// TransformerByID implements store.TransformerStore.
func (s *Store) TransformerByID(ctx context.Context, topicID, id int64) (*model.Transformer, error) {
	var t model.Transformer
	found, err := s.getRecord(ctx, transformerKey(id), &t)
	if err != nil {
		return nil, err
	}
	if !found || t.TopicID != topicID {
		return nil, errors.Wrap(errors.ErrTransformerNotFound, "Store", "TransformerByID", "transformer lookup")
	}
	return &t, nil
}

// ListByTopic implements store.TransformerStore.
func (s *Store) ListByTopic(ctx context.Context, topicID int64) ([]*model.Transformer, error) {
	var ids map[string]int64
	found, err := s.getRecord(ctx, transformerIndexKey(topicID), &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	out := make([]*model.Transformer, 0, len(ids))
	for _, id := range ids {
		t, err := s.TransformerByID(ctx, topicID, id)
		if err != nil {
			if errors.KindOf(err) == errors.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// InsertTransformer implements store.TransformerStore.
func (s *Store) InsertTransformer(ctx context.Context, t *model.Transformer) (*model.Transformer, error) {
	cp := *t
	if cp.ID == 0 {
		id, err := s.allocID(ctx)
		if err != nil {
			return nil, err
		}
		cp.ID = id
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = timestamp.Now()
	}

	if err := s.putRecord(ctx, transformerKey(cp.ID), &cp); err != nil {
		return nil, err
	}
	if err := s.indexPut(ctx, transformerIndexKey(cp.TopicID), strconv.FormatInt(cp.ID, 10), cp.ID); err != nil {
		return nil, err
	}
	return &cp, nil
}

// UpdateTransformer implements store.TransformerStore.
func (s *Store) UpdateTransformer(ctx context.Context, t *model.Transformer) (*model.Transformer, error) {
	if _, err := s.TransformerByID(ctx, t.TopicID, t.ID); err != nil {
		return nil, err
	}
	cp := *t
	if err := s.putRecord(ctx, transformerKey(cp.ID), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// RecordPublished implements store.AuditRecorder.
func (s *Store) RecordPublished(ctx context.Context, rec model.AuditRecord) error {
	if rec.At == 0 {
		rec.At = timestamp.Now()
	}
	return s.putRecord(ctx, "audit."+uuid.NewString(), &rec)
}

func appKey(id int64) string         { return fmt.Sprintf("apps.%d", id) }
func topicKey(id int64) string       { return fmt.Sprintf("topics.%d", id) }
func schemaKey(id int64) string      { return fmt.Sprintf("schemas.%d", id) }
func transformerKey(id int64) string { return fmt.Sprintf("transformers.%d", id) }

func topicIndexKey(appID int64) string         { return fmt.Sprintf("index.topics.%d", appID) }
func schemaIndexKey(appID int64) string        { return fmt.Sprintf("index.schemas.%d", appID) }
func transformerIndexKey(topicID int64) string { return fmt.Sprintf("index.transformers.%d", topicID) }
