package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx JSON response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeUpstream    = "upstream_error"
	ErrCodeUnavailable = "unavailable"
)

// errorCodes maps the statuses handlers answer with to their code.
// Anything else is reported as internal.
var errorCodes = map[int]string{
	http.StatusBadRequest:         ErrCodeBadRequest,
	http.StatusNotFound:           ErrCodeNotFound,
	http.StatusConflict:           ErrCodeConflict,
	http.StatusBadGateway:         ErrCodeUpstream,
	http.StatusServiceUnavailable: ErrCodeUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

// writeError answers r with status and a structured Error carrying the
// request ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	code, ok := errorCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	})
}
