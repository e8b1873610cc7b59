package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/parrishsteve/splatcast/errors"
)

// statusForError maps the error taxonomy onto HTTP statuses. Unknown
// errors read as internal so nothing leaks past the boundary.
func statusForError(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindValidation, errors.KindTransformExecution:
		return http.StatusBadRequest
	case errors.KindDuplicate:
		return http.StatusConflict
	case errors.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errors.KindQueuePublish:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a client-safe message. Internal details stay in
// logs; validation and transform failures carry their message through since
// the caller needs it to fix the request.
func sanitizeError(err error) string {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return "resource not found"
	case errors.KindValidation, errors.KindDuplicate, errors.KindTransformExecution:
		return err.Error()
	case errors.KindQuotaExceeded:
		return "publish quota exceeded"
	case errors.KindQueuePublish:
		return "event broker unavailable"
	default:
		return "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	writeJSON(w, status, map[string]any{
		"error":  sanitizeError(err),
		"status": status,
	})
}
