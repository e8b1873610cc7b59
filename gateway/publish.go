package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
)

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApp(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req model.PublishRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.pipeline.Publish(r.Context(), app.ID, topicRef(r), req)
	if err != nil {
		s.logger.Debug("publish rejected", "app_id", app.ID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApp(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var batch model.BatchPublishRequest
	if err := s.decodeBody(w, r, &batch); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.pipeline.PublishBatch(r.Context(), app.ID, topicRef(r), batch)
	if err != nil {
		writeError(w, err)
		return
	}

	// Partial failure is a successful batch call; per-event errors ride in
	// the body with their input indexes.
	status := http.StatusOK
	if len(resp.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// decodeBody reads a size-limited JSON body into v.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Server", "decodeBody", "request body read")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Server", "decodeBody", "request body decode")
	}
	return nil
}
