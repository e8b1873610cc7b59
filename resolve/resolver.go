// Package resolve turns id-or-name references into canonical records and
// enforces topic default-schema agreement. Every lookup path in publish and
// subscribe funnels through here so "which reference was given" is decided
// exactly once.
package resolve

import (
	"context"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/store"
)

// Resolver resolves schema and topic references against the record stores.
type Resolver struct {
	topics  store.TopicStore
	schemas store.SchemaStore
}

// New creates a resolver over the given stores.
func New(topics store.TopicStore, schemas store.SchemaStore) *Resolver {
	return &Resolver{topics: topics, schemas: schemas}
}

// Topic resolves a topic reference within an app by id or by name.
func (r *Resolver) Topic(ctx context.Context, appID int64, ref model.TopicRef) (*model.Topic, error) {
	switch {
	case ref.ID != nil:
		topic, err := r.topics.TopicByID(ctx, appID, *ref.ID)
		if err != nil {
			return nil, err
		}
		// Both given: they must be the same topic.
		if ref.Name != "" && topic.Name != ref.Name {
			return nil, errors.Wrap(errors.ErrAmbiguousRef, "Resolver", "Topic", "reconcile id and name")
		}
		return topic, nil
	case ref.Name != "":
		return r.topics.TopicByName(ctx, appID, ref.Name)
	default:
		return nil, errors.Wrap(errors.ErrTopicNotFound, "Resolver", "Topic", "empty topic reference")
	}
}

// Schema resolves a required schema reference within an app. When both id
// and name are supplied they must refer to the same schema.
func (r *Resolver) Schema(ctx context.Context, appID int64, ref model.SchemaRef) (*model.Schema, error) {
	switch {
	case ref.ID != nil:
		schema, err := r.schemas.SchemaByID(ctx, appID, *ref.ID)
		if err != nil {
			return nil, err
		}
		if ref.Name != "" && schema.Name != ref.Name {
			return nil, errors.Wrap(errors.ErrAmbiguousRef, "Resolver", "Schema", "reconcile id and name")
		}
		return schema, nil
	case ref.Name != "":
		return r.schemas.SchemaByName(ctx, appID, ref.Name)
	default:
		return nil, errors.Wrap(errors.ErrSchemaNotFound, "Resolver", "Schema", "empty schema reference")
	}
}

// OptionalSchema resolves a schema reference that may legitimately be absent
// (a catch-all transformer source, a topic without a default). A zero
// reference resolves to nil with no error.
func (r *Resolver) OptionalSchema(ctx context.Context, appID int64, ref model.SchemaRef) (*model.Schema, error) {
	if ref.IsZero() {
		return nil, nil
	}
	return r.Schema(ctx, appID, ref)
}

// TransformerPair resolves the (fromSchema?, toSchema) pair of a transformer
// request. The source is optional; absent means catch-all.
func (r *Resolver) TransformerPair(
	ctx context.Context, appID int64, from, to model.SchemaRef,
) (fromSchema *model.Schema, toSchema *model.Schema, err error) {
	fromSchema, err = r.OptionalSchema(ctx, appID, from)
	if err != nil {
		return nil, nil, err
	}
	toSchema, err = r.Schema(ctx, appID, to)
	if err != nil {
		return nil, nil, err
	}
	return fromSchema, toSchema, nil
}

// CheckDefaultSchema enforces the topic invariant: when a default schema is
// declared, the effective target schema of a publish must equal it.
func CheckDefaultSchema(topic *model.Topic, effectiveTargetID int64) error {
	if topic.DefaultSchemaID == nil {
		return nil
	}
	if *topic.DefaultSchemaID != effectiveTargetID {
		return errors.Wrap(errors.ErrSchemaMismatch, "Resolver", "CheckDefaultSchema", "default schema check")
	}
	return nil
}
