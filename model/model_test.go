package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parrishsteve/splatcast/errors"
)

func TestSchemaStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    SchemaStatus
		to      SchemaStatus
		allowed bool
	}{
		{"draft to active", SchemaDraft, SchemaActive, true},
		{"draft to deprecated", SchemaDraft, SchemaDeprecated, true},
		{"active to deprecated", SchemaActive, SchemaDeprecated, true},
		{"active to draft", SchemaActive, SchemaDraft, false},
		{"deprecated to active", SchemaDeprecated, SchemaActive, false},
		{"deprecated to draft", SchemaDeprecated, SchemaDraft, false},
		{"same state", SchemaActive, SchemaActive, true},
		{"unknown source", SchemaStatus("frozen"), SchemaActive, false},
		{"unknown target", SchemaDraft, SchemaStatus("frozen"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSchemaStatus_Deletable(t *testing.T) {
	assert.True(t, SchemaDraft.Deletable())
	assert.False(t, SchemaActive.Deletable())
	assert.False(t, SchemaDeprecated.Deletable())
}

func TestQuotaSettings_Validate(t *testing.T) {
	assert.NoError(t, QuotaSettings{PerMinute: 6000, PerDay: 1000000}.Validate())
	assert.Error(t, QuotaSettings{PerMinute: 0, PerDay: 100}.Validate())
	assert.Error(t, QuotaSettings{PerMinute: 100, PerDay: -1}.Validate())
}

func TestPublishRequest_Validate(t *testing.T) {
	id := int64(7)

	tests := []struct {
		name    string
		req     PublishRequest
		wantErr error
	}{
		{
			name: "schema by id",
			req:  PublishRequest{SchemaID: &id, Data: map[string]any{"x": 1}},
		},
		{
			name: "schema by name",
			req:  PublishRequest{SchemaName: "orders.v1", Data: map[string]any{"x": 1}},
		},
		{
			name:    "no schema reference",
			req:     PublishRequest{Data: map[string]any{"x": 1}},
			wantErr: errors.ErrSchemaRequired,
		},
		{
			name:    "no data",
			req:     PublishRequest{SchemaID: &id},
			wantErr: errors.ErrInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublishRequest_SchemaRefs(t *testing.T) {
	from := int64(1)
	to := int64(2)
	req := PublishRequest{SchemaID: &from, TransformToSchemaID: &to}

	declared := req.DeclaredSchema()
	assert.Equal(t, &from, declared.ID)
	assert.False(t, declared.IsZero())

	target := req.TargetSchema()
	assert.Equal(t, &to, target.ID)

	plain := PublishRequest{SchemaName: "orders.v1"}
	assert.True(t, plain.TargetSchema().IsZero())
}

func TestRefConstructors(t *testing.T) {
	byID := RefByID(42)
	assert.NotNil(t, byID.ID)
	assert.Equal(t, int64(42), *byID.ID)

	byName := RefByName("orders.v1")
	assert.Nil(t, byName.ID)
	assert.Equal(t, "orders.v1", byName.Name)

	assert.True(t, SchemaRef{}.IsZero())
	assert.True(t, TopicRef{}.IsZero())
	assert.False(t, TopicRefByID(1).IsZero())
	assert.False(t, TopicRefByName("clicks").IsZero())
}
