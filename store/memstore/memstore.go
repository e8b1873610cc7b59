// Package memstore is the in-memory implementation of the store contracts.
// It backs tests and single-node runs; records live only as long as the
// process. Schema lifecycle rules (monotonic status, draft-only delete) are
// enforced here so no backend can corrupt them.
package memstore

import (
	"context"
	"sync"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/pkg/timestamp"
)

// Store is a concurrency-safe in-memory record store implementing the
// AppStore, TopicStore, SchemaStore, TransformerStore, and AuditRecorder
// contracts.
type Store struct {
	mu sync.RWMutex

	apps         map[int64]*model.App
	topics       map[int64]*model.Topic
	schemas      map[int64]*model.Schema
	transformers map[int64]*model.Transformer
	audit        []model.AuditRecord

	nextID int64

	// OnQuotaChange, when set, is invoked after SetTopicQuotas so the quota
	// limiter can drop its cached settings for the key.
	OnQuotaChange func(appID, topicID int64)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		apps:         make(map[int64]*model.App),
		topics:       make(map[int64]*model.Topic),
		schemas:      make(map[int64]*model.Schema),
		transformers: make(map[int64]*model.Transformer),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// PutApp stores an app, assigning an id when none is set.
func (s *Store) PutApp(app model.App) *model.App {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == 0 {
		app.ID = s.allocID()
	}
	if app.CreatedAt == 0 {
		app.CreatedAt = timestamp.Now()
	}
	app.UpdatedAt = timestamp.Now()
	s.apps[app.ID] = &app
	return &app
}

// AppByID implements store.AppStore.
func (s *Store) AppByID(_ context.Context, id int64) (*model.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrAppNotFound, "Store", "AppByID", "app lookup")
	}
	cp := *app
	return &cp, nil
}

// AppByName implements store.AppStore.
func (s *Store) AppByName(_ context.Context, name string) (*model.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.apps {
		if app.Name == name {
			cp := *app
			return &cp, nil
		}
	}
	return nil, errors.Wrap(errors.ErrAppNotFound, "Store", "AppByName", "app lookup")
}

// PutTopic stores a topic, assigning an id when none is set.
func (s *Store) PutTopic(topic model.Topic) *model.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()

	if topic.ID == 0 {
		topic.ID = s.allocID()
	}
	if topic.RetentionHours == 0 {
		topic.RetentionHours = 168
	}
	if topic.CreatedAt == 0 {
		topic.CreatedAt = timestamp.Now()
	}
	topic.UpdatedAt = timestamp.Now()
	s.topics[topic.ID] = &topic
	return &topic
}

// TopicByID implements store.TopicStore. The app id must match; topics are
// never visible across tenants.
func (s *Store) TopicByID(_ context.Context, appID, id int64) (*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topic, ok := s.topics[id]
	if !ok || topic.AppID != appID {
		return nil, errors.Wrap(errors.ErrTopicNotFound, "Store", "TopicByID", "topic lookup")
	}
	cp := *topic
	return &cp, nil
}

// TopicByName implements store.TopicStore.
func (s *Store) TopicByName(_ context.Context, appID int64, name string) (*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, topic := range s.topics {
		if topic.AppID == appID && topic.Name == name {
			cp := *topic
			return &cp, nil
		}
	}
	return nil, errors.Wrap(errors.ErrTopicNotFound, "Store", "TopicByName", "topic lookup")
}

// SetTopicQuotas replaces a topic's quota settings and fires the
// invalidation hook so cached limiter state is dropped.
func (s *Store) SetTopicQuotas(appID, topicID int64, quotas *model.QuotaSettings) error {
	s.mu.Lock()
	topic, ok := s.topics[topicID]
	if !ok || topic.AppID != appID {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrTopicNotFound, "Store", "SetTopicQuotas", "topic lookup")
	}
	topic.Quotas = quotas
	topic.UpdatedAt = timestamp.Now()
	hook := s.OnQuotaChange
	s.mu.Unlock()

	if hook != nil {
		hook(appID, topicID)
	}
	return nil
}

// PutSchema stores a schema, assigning an id when none is set. New schemas
// default to active, matching how they are created in practice.
func (s *Store) PutSchema(schema model.Schema) (*model.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schema.Status == "" {
		schema.Status = model.SchemaActive
	}
	if !schema.Status.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Store", "PutSchema", "unknown schema status")
	}
	if schema.ID == 0 {
		schema.ID = s.allocID()
	}
	if schema.CreatedAt == 0 {
		schema.CreatedAt = timestamp.Now()
	}
	s.schemas[schema.ID] = &schema
	return &schema, nil
}

// SchemaByID implements store.SchemaStore.
func (s *Store) SchemaByID(_ context.Context, appID, id int64) (*model.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, ok := s.schemas[id]
	if !ok || schema.AppID != appID {
		return nil, errors.Wrap(errors.ErrSchemaNotFound, "Store", "SchemaByID", "schema lookup")
	}
	cp := *schema
	return &cp, nil
}

// SchemaByName implements store.SchemaStore.
func (s *Store) SchemaByName(_ context.Context, appID int64, name string) (*model.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, schema := range s.schemas {
		if schema.AppID == appID && schema.Name == name {
			cp := *schema
			return &cp, nil
		}
	}
	return nil, errors.Wrap(errors.ErrSchemaNotFound, "Store", "SchemaByName", "schema lookup")
}

// SetSchemaStatus advances a schema's lifecycle state. Reverse transitions
// are rejected.
func (s *Store) SetSchemaStatus(appID, id int64, status model.SchemaStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[id]
	if !ok || schema.AppID != appID {
		return errors.Wrap(errors.ErrSchemaNotFound, "Store", "SetSchemaStatus", "schema lookup")
	}
	if !schema.Status.CanTransitionTo(status) {
		return errors.Wrap(errors.ErrInvalidTransition, "Store", "SetSchemaStatus", "lifecycle check")
	}
	schema.Status = status
	return nil
}

// DeleteSchema removes a schema. Only drafts are deletable.
func (s *Store) DeleteSchema(appID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[id]
	if !ok || schema.AppID != appID {
		return errors.Wrap(errors.ErrSchemaNotFound, "Store", "DeleteSchema", "schema lookup")
	}
	if !schema.Status.Deletable() {
		return errors.Wrap(errors.ErrInvalidTransition, "Store", "DeleteSchema", "only draft schemas may be deleted")
	}
	delete(s.schemas, id)
	return nil
}

// TransformerByID implements store.TransformerStore.
func (s *Store) TransformerByID(_ context.Context, topicID, id int64) (*model.Transformer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transformers[id]
	if !ok || t.TopicID != topicID {
		return nil, errors.Wrap(errors.ErrTransformerNotFound, "Store", "TransformerByID", "transformer lookup")
	}
	cp := *t
	return &cp, nil
}

// ListByTopic implements store.TransformerStore.
func (s *Store) ListByTopic(_ context.Context, topicID int64) ([]*model.Transformer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Transformer
	for _, t := range s.transformers {
		if t.TopicID == topicID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InsertTransformer implements store.TransformerStore.
func (s *Store) InsertTransformer(_ context.Context, t *model.Transformer) (*model.Transformer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	if cp.ID == 0 {
		cp.ID = s.allocID()
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = timestamp.Now()
	}
	s.transformers[cp.ID] = &cp

	out := cp
	return &out, nil
}

// UpdateTransformer implements store.TransformerStore.
func (s *Store) UpdateTransformer(_ context.Context, t *model.Transformer) (*model.Transformer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transformers[t.ID]
	if !ok || existing.TopicID != t.TopicID {
		return nil, errors.Wrap(errors.ErrTransformerNotFound, "Store", "UpdateTransformer", "transformer lookup")
	}
	cp := *t
	s.transformers[t.ID] = &cp

	out := cp
	return &out, nil
}

// RecordPublished implements store.AuditRecorder.
func (s *Store) RecordPublished(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.At == 0 {
		rec.At = timestamp.Now()
	}
	s.audit = append(s.audit, rec)
	return nil
}

// AuditRecords returns a snapshot of recorded audit entries, oldest first.
func (s *Store) AuditRecords() []model.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AuditRecord, len(s.audit))
	copy(out, s.audit)
	return out
}
