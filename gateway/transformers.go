package gateway

import (
	"net/http"

	"github.com/parrishsteve/splatcast/transformer"
)

// transformerCreateBody is the authoring payload. The topic comes from the
// path; everything else is explicit.
type transformerCreateBody struct {
	Name         string `json:"name"`
	FromSchemaID *int64 `json:"fromSchemaId,omitempty"`
	ToSchemaID   int64  `json:"toSchemaId"`
	Code         string `json:"code"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
	Enabled      bool   `json:"enabled"`
	CreatedBy    string `json:"createdBy,omitempty"`
}

type transformerUpdateBody struct {
	Name         *string `json:"name,omitempty"`
	FromSchemaID *int64  `json:"fromSchemaId,omitempty"`
	ToSchemaID   *int64  `json:"toSchemaId,omitempty"`
	Code         *string `json:"code,omitempty"`
	TimeoutMs    *int    `json:"timeoutMs,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
}

type transformerTestBody struct {
	Data map[string]any `json:"data"`
}

func (s *Server) handleTransformerCreate(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApp(r)
	if err != nil {
		writeError(w, err)
		return
	}
	topic, err := s.resolver.Topic(r.Context(), app.ID, topicRef(r))
	if err != nil {
		writeError(w, err)
		return
	}

	var body transformerCreateBody
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.registry.Create(r.Context(), transformer.CreateRequest{
		AppID:        app.ID,
		TopicID:      topic.ID,
		Name:         body.Name,
		FromSchemaID: body.FromSchemaID,
		ToSchemaID:   body.ToSchemaID,
		Code:         body.Code,
		TimeoutMs:    body.TimeoutMs,
		Enabled:      body.Enabled,
		CreatedBy:    body.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTransformerUpdate(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApp(r)
	if err != nil {
		writeError(w, err)
		return
	}
	topic, err := s.resolver.Topic(r.Context(), app.ID, topicRef(r))
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var body transformerUpdateBody
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.registry.Update(r.Context(), topic.ID, id, transformer.UpdateRequest{
		Name:         body.Name,
		FromSchemaID: body.FromSchemaID,
		ToSchemaID:   body.ToSchemaID,
		Code:         body.Code,
		TimeoutMs:    body.TimeoutMs,
		Enabled:      body.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTransformerTest(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApp(r)
	if err != nil {
		writeError(w, err)
		return
	}
	topic, err := s.resolver.Topic(r.Context(), app.ID, topicRef(r))
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var body transformerTestBody
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	out, err := s.registry.Test(r.Context(), topic.ID, id, body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": out})
}
