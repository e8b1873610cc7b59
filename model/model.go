// Package model defines the records shared across the gateway: tenant apps,
// topics, schemas, transformers, and the publish request/response shapes.
// All timestamps are Unix milliseconds (see pkg/timestamp).
package model

import (
	"github.com/parrishsteve/splatcast/errors"
)

// App is the tenant boundary. Every other record references an app by id.
type App struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// QuotaSettings caps publish throughput for one topic. Quota is opt-in: a
// topic without settings is never rate limited.
type QuotaSettings struct {
	PerMinute int `json:"perMinute"`
	PerDay    int `json:"perDay"`
}

// Validate checks that configured caps are positive.
func (q QuotaSettings) Validate() error {
	if q.PerMinute <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "QuotaSettings", "Validate", "perMinute must be greater than 0")
	}
	if q.PerDay <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "QuotaSettings", "Validate", "perDay must be greater than 0")
	}
	return nil
}

// Topic is a named event stream owned by one app. If DefaultSchemaID is set,
// every published event's effective target schema must equal it.
type Topic struct {
	ID              int64          `json:"id"`
	AppID           int64          `json:"appId"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	RetentionHours  int            `json:"retentionHours"`
	DefaultSchemaID *int64         `json:"defaultSchemaId,omitempty"`
	Quotas          *QuotaSettings `json:"quotas,omitempty"`
	CreatedAt       int64          `json:"createdAt"`
	UpdatedAt       int64          `json:"updatedAt"`
}

// SchemaStatus is the lifecycle state of a schema document.
type SchemaStatus string

// Schema lifecycle states. Transitions are monotonic:
// draft -> active -> deprecated, with deprecated terminal.
const (
	SchemaDraft      SchemaStatus = "draft"
	SchemaActive     SchemaStatus = "active"
	SchemaDeprecated SchemaStatus = "deprecated"
)

// Valid reports whether s is a known lifecycle state.
func (s SchemaStatus) Valid() bool {
	switch s {
	case SchemaDraft, SchemaActive, SchemaDeprecated:
		return true
	}
	return false
}

// rank orders lifecycle states for the monotonic transition check.
func (s SchemaStatus) rank() int {
	switch s {
	case SchemaDraft:
		return 0
	case SchemaActive:
		return 1
	case SchemaDeprecated:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Staying in the same state is allowed; moving backwards is not.
func (s SchemaStatus) CanTransitionTo(next SchemaStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Deletable reports whether a schema in this state may be deleted.
// Only drafts are deletable.
func (s SchemaStatus) Deletable() bool {
	return s == SchemaDraft
}

// Schema is a named JSON-Schema document owned by one app.
type Schema struct {
	ID        int64          `json:"id"`
	AppID     int64          `json:"appId"`
	Name      string         `json:"name"`
	Document  map[string]any `json:"jsonSchema"`
	Status    SchemaStatus   `json:"status"`
	CreatedAt int64          `json:"createdAt"`
}

// Transformer is a pure function fromSchema? -> toSchema scoped to one topic.
// FromSchemaID == nil means the transformer accepts requests that declare no
// source schema; it is not an implicit match for every source.
type Transformer struct {
	ID           int64  `json:"id"`
	AppID        int64  `json:"appId"`
	TopicID      int64  `json:"topicId"`
	Name         string `json:"name"`
	FromSchemaID *int64 `json:"fromSchemaId,omitempty"`
	ToSchemaID   int64  `json:"toSchemaId"`
	Code         string `json:"code"`
	CodeHash     string `json:"codeHash"`
	TimeoutMs    int    `json:"timeoutMs"`
	Enabled      bool   `json:"enabled"`
	CreatedBy    string `json:"createdBy,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// SchemaRef identifies a schema by id, by name, or not at all. The same
// id-or-name shape recurs across publish, subscribe, topic, and transformer
// requests, so it is resolved once into this value and consumed uniformly.
type SchemaRef struct {
	ID   *int64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether neither an id nor a name was given.
func (r SchemaRef) IsZero() bool {
	return r.ID == nil && r.Name == ""
}

// RefByID builds a SchemaRef from a numeric id.
func RefByID(id int64) SchemaRef {
	return SchemaRef{ID: &id}
}

// RefByName builds a SchemaRef from a name.
func RefByName(name string) SchemaRef {
	return SchemaRef{Name: name}
}

// TopicRef identifies a topic by id or by name within an app.
type TopicRef struct {
	ID   *int64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether neither an id nor a name was given.
func (r TopicRef) IsZero() bool {
	return r.ID == nil && r.Name == ""
}

// TopicRefByID builds a TopicRef from a numeric id.
func TopicRefByID(id int64) TopicRef {
	return TopicRef{ID: &id}
}

// TopicRefByName builds a TopicRef from a name.
func TopicRefByName(name string) TopicRef {
	return TopicRef{Name: name}
}

// AuditRecord captures one successful publish for the audit collaborator.
type AuditRecord struct {
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Target  string         `json:"target"`
	Details map[string]any `json:"details,omitempty"`
	At      int64          `json:"at"`
}
