// Package transformer manages per-topic transform definitions and applies
// them to event payloads. A transformer binds a sandboxed script to a
// (from schema, to schema) edge on one topic; publishes that declare one
// schema and request another are routed through the matching transformer.
package transformer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/sandbox"
	"github.com/parrishsteve/splatcast/store"
)

// Registry is the authoring and lookup surface for transformers. Lookups are
// exact: a transformer matches a publish only when its topic, source schema,
// and target schema all line up.
type Registry struct {
	transformers store.TransformerStore
	schemas      store.SchemaStore
	exec         *sandbox.Executor
	logger       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a Registry over the given stores and sandbox executor.
func NewRegistry(transformers store.TransformerStore, schemas store.SchemaStore, exec *sandbox.Executor, opts ...Option) *Registry {
	r := &Registry{
		transformers: transformers,
		schemas:      schemas,
		exec:         exec,
		logger:       slog.Default().With("component", "transformer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRequest describes a new transformer.
type CreateRequest struct {
	AppID        int64
	TopicID      int64
	Name         string
	FromSchemaID *int64
	ToSchemaID   int64
	Code         string
	TimeoutMs    int
	Enabled      bool
	CreatedBy    string
}

// Create validates and stores a new transformer. The script is compiled and
// dry-run before anything is written; referenced schemas must exist in the
// same app. An enabled transformer that duplicates another enabled one on
// the same (from, to) edge with identical code is rejected.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*model.Transformer, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.Wrap(errors.ErrInvalidData, "Registry", "Create", "name validation")
	}
	if err := r.exec.ValidateSyntax(ctx, req.Code); err != nil {
		return nil, err
	}
	if err := r.checkSchemas(ctx, req.AppID, req.FromSchemaID, req.ToSchemaID); err != nil {
		return nil, err
	}

	hash := sandbox.HashCode(req.Code)
	existing, err := r.transformers.ListByTopic(ctx, req.TopicID)
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		if t.Name == req.Name {
			return nil, errors.Wrap(errors.ErrDuplicateName, "Registry", "Create", "name uniqueness check")
		}
		if req.Enabled && t.Enabled && sameEdge(t.FromSchemaID, req.FromSchemaID) && t.ToSchemaID == req.ToSchemaID && t.CodeHash == hash {
			return nil, errors.Wrap(errors.ErrDuplicateTransformer, "Registry", "Create", "duplicate edge check")
		}
	}

	t := &model.Transformer{
		AppID:        req.AppID,
		TopicID:      req.TopicID,
		Name:         req.Name,
		FromSchemaID: req.FromSchemaID,
		ToSchemaID:   req.ToSchemaID,
		Code:         req.Code,
		CodeHash:     hash,
		TimeoutMs:    req.TimeoutMs,
		Enabled:      req.Enabled,
		CreatedBy:    req.CreatedBy,
	}
	stored, err := r.transformers.InsertTransformer(ctx, t)
	if err != nil {
		return nil, err
	}
	r.logger.Info("transformer created",
		"transformer_id", stored.ID, "topic_id", stored.TopicID, "name", stored.Name, "enabled", stored.Enabled)
	return stored, nil
}

// UpdateRequest carries the mutable fields of a transformer. Nil fields are
// left unchanged; a provided FromSchemaID replaces the source edge but the
// edge cannot be cleared back to sourceless through an update.
type UpdateRequest struct {
	Name         *string
	FromSchemaID *int64
	ToSchemaID   *int64
	Code         *string
	TimeoutMs    *int
	Enabled      *bool
}

// Update patches an existing transformer. A code change is revalidated and
// rehashed, a schema change is checked against the app's schemas, and the
// patched result must still satisfy the same name and enabled-edge
// uniqueness that Create enforces.
func (r *Registry) Update(ctx context.Context, topicID, id int64, req UpdateRequest) (*model.Transformer, error) {
	t, err := r.transformers.TransformerByID(ctx, topicID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, errors.Wrap(errors.ErrInvalidData, "Registry", "Update", "name validation")
		}
		t.Name = *req.Name
	}
	if req.Code != nil {
		if err := r.exec.ValidateSyntax(ctx, *req.Code); err != nil {
			return nil, err
		}
		t.Code = *req.Code
		t.CodeHash = sandbox.HashCode(*req.Code)
	}
	if req.FromSchemaID != nil {
		t.FromSchemaID = req.FromSchemaID
	}
	if req.ToSchemaID != nil {
		t.ToSchemaID = *req.ToSchemaID
	}
	if req.TimeoutMs != nil {
		t.TimeoutMs = *req.TimeoutMs
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}

	if req.FromSchemaID != nil || req.ToSchemaID != nil {
		if err := r.checkSchemas(ctx, t.AppID, t.FromSchemaID, t.ToSchemaID); err != nil {
			return nil, err
		}
	}

	siblings, err := r.transformers.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	for _, other := range siblings {
		if other.ID == t.ID {
			continue
		}
		if other.Name == t.Name {
			return nil, errors.Wrap(errors.ErrDuplicateName, "Registry", "Update", "name uniqueness check")
		}
		if t.Enabled && other.Enabled && sameEdge(other.FromSchemaID, t.FromSchemaID) && other.ToSchemaID == t.ToSchemaID && other.CodeHash == t.CodeHash {
			return nil, errors.Wrap(errors.ErrDuplicateTransformer, "Registry", "Update", "duplicate edge check")
		}
	}

	stored, err := r.transformers.UpdateTransformer(ctx, t)
	if err != nil {
		return nil, err
	}
	r.logger.Info("transformer updated", "transformer_id", stored.ID, "topic_id", stored.TopicID, "enabled", stored.Enabled)
	return stored, nil
}

// Find returns the enabled transformer matching the (from, to) edge on a
// topic. The key is exact: a transformer with a nil source schema matches
// only lookups that declare no source schema, never as a fallback for an
// explicit source. No match is ErrTransformerNotFound.
func (r *Registry) Find(ctx context.Context, topicID int64, fromSchemaID *int64, toSchemaID int64) (*model.Transformer, error) {
	all, err := r.transformers.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	for _, t := range all {
		if !t.Enabled || t.ToSchemaID != toSchemaID {
			continue
		}
		if sameEdge(t.FromSchemaID, fromSchemaID) {
			return t, nil
		}
	}
	return nil, errors.Wrap(errors.ErrTransformerNotFound, "Registry", "Find", "transformer lookup")
}

// Apply runs a transformer's script against data in the sandbox and returns
// the transformed payload.
func (r *Registry) Apply(ctx context.Context, t *model.Transformer, data map[string]any) (map[string]any, error) {
	timeout := time.Duration(t.TimeoutMs) * time.Millisecond
	out, err := r.exec.Execute(ctx, t.Code, data, timeout)
	if err != nil {
		r.logger.Warn("transform failed",
			"transformer_id", t.ID, "topic_id", t.TopicID, "error", err)
		return nil, err
	}
	return out, nil
}

// Test dry-runs a stored transformer against a sample payload. Nothing is
// published; the transformed output is returned for inspection.
func (r *Registry) Test(ctx context.Context, topicID, id int64, sample map[string]any) (map[string]any, error) {
	t, err := r.transformers.TransformerByID(ctx, topicID, id)
	if err != nil {
		return nil, err
	}
	return r.Apply(ctx, t, sample)
}

func (r *Registry) checkSchemas(ctx context.Context, appID int64, fromID *int64, toID int64) error {
	if fromID != nil {
		if _, err := r.schemas.SchemaByID(ctx, appID, *fromID); err != nil {
			return err
		}
	}
	_, err := r.schemas.SchemaByID(ctx, appID, toID)
	return err
}

func sameEdge(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
