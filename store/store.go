// Package store defines the collaborator contracts the gateway core depends
// on: read access to apps, topics, schemas, and transformers, plus the single
// write contract for audit appends. Implementations live in subpackages;
// memstore backs tests and single-node runs, natskv persists records in
// JetStream key-value buckets.
package store

import (
	"context"

	"github.com/parrishsteve/splatcast/model"
)

// AppStore resolves tenant apps.
type AppStore interface {
	AppByID(ctx context.Context, id int64) (*model.App, error)
	AppByName(ctx context.Context, name string) (*model.App, error)
}

// TopicStore resolves topics within an app.
type TopicStore interface {
	TopicByID(ctx context.Context, appID, id int64) (*model.Topic, error)
	TopicByName(ctx context.Context, appID int64, name string) (*model.Topic, error)
}

// SchemaStore resolves schema documents within an app.
type SchemaStore interface {
	SchemaByID(ctx context.Context, appID, id int64) (*model.Schema, error)
	SchemaByName(ctx context.Context, appID int64, name string) (*model.Schema, error)
}

// TransformerStore persists transformers. ListByTopic returns every
// transformer of a topic, enabled or not; callers filter.
type TransformerStore interface {
	TransformerByID(ctx context.Context, topicID, id int64) (*model.Transformer, error)
	ListByTopic(ctx context.Context, topicID int64) ([]*model.Transformer, error)
	InsertTransformer(ctx context.Context, t *model.Transformer) (*model.Transformer, error)
	UpdateTransformer(ctx context.Context, t *model.Transformer) (*model.Transformer, error)
}

// AuditRecorder is the single write contract of the core: append one record
// per successful publish. Implementations must not block the publish path on
// slow audit storage beyond their own buffering.
type AuditRecorder interface {
	RecordPublished(ctx context.Context, rec model.AuditRecord) error
}

// Stores bundles the collaborator interfaces the pipeline and hub consume.
type Stores struct {
	Apps         AppStore
	Topics       TopicStore
	Schemas      SchemaStore
	Transformers TransformerStore
	Audit        AuditRecorder
}
