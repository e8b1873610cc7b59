package model

import (
	"github.com/parrishsteve/splatcast/errors"
)

// PublishRequest is one event submitted for publishing. At least one of
// SchemaID/SchemaName must be set. TransformTo* select an output schema;
// when set, a registered transformer for (declared, target) must exist.
type PublishRequest struct {
	SchemaID              *int64         `json:"schemaId,omitempty"`
	SchemaName            string         `json:"schemaName,omitempty"`
	TransformToSchemaID   *int64         `json:"transformToSchemaId,omitempty"`
	TransformToSchemaName string         `json:"transformToSchemaName,omitempty"`
	Data                  map[string]any `json:"data"`
	IdempotencyKey        string         `json:"idempotencyKey,omitempty"`
}

// Validate checks the request shape before any lookups happen.
func (r PublishRequest) Validate() error {
	if r.SchemaID == nil && r.SchemaName == "" {
		return errors.Wrap(errors.ErrSchemaRequired, "PublishRequest", "Validate", "check schema reference")
	}
	if r.Data == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "PublishRequest", "Validate", "data object is required")
	}
	return nil
}

// DeclaredSchema returns the event's declared source schema reference.
func (r PublishRequest) DeclaredSchema() SchemaRef {
	return SchemaRef{ID: r.SchemaID, Name: r.SchemaName}
}

// TargetSchema returns the requested output schema reference, which is zero
// when no transform was requested.
func (r PublishRequest) TargetSchema() SchemaRef {
	return SchemaRef{ID: r.TransformToSchemaID, Name: r.TransformToSchemaName}
}

// PublishResponse is the canonical published-event record returned to the
// caller and cached under the idempotency key.
type PublishResponse struct {
	EventID           string   `json:"eventId"`
	TopicID           int64    `json:"topicId"`
	TopicName         string   `json:"topicName"`
	PublishedAt       int64    `json:"publishedAt"`
	TransformsApplied []string `json:"transformsApplied"`
}

// BatchPublishRequest fans out its events concurrently and independently.
type BatchPublishRequest struct {
	Events []PublishRequest `json:"events"`
}

// PublishFailure reports one failed event of a batch, carrying the original
// input index and payload so the caller can correlate and retry.
type PublishFailure struct {
	Index int            `json:"index"`
	Error string         `json:"error"`
	Data  map[string]any `json:"data"`
}

// BatchPublishResponse partitions a batch into successes and failures.
type BatchPublishResponse struct {
	Published []PublishResponse `json:"published"`
	Failed    []PublishFailure  `json:"failed"`
}
