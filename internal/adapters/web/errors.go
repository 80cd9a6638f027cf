package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"barstock/internal/auth"
	"barstock/internal/core"
)

type errorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomain maps a service error onto the wire: domain errors keep
// their code and structured details, the login throttle becomes 429,
// everything else is an opaque 500.
func writeDomain(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrRateLimited) {
		writeError(w, r, err.Error(), "ERR_RATE_LIMITED", http.StatusTooManyRequests)
		return
	}
	if de, ok := core.AsDomainError(err); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(de.Code))
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     de.Message,
			Code:      string(de.Code),
			Details:   de.Details,
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}
	writeError(w, r, err.Error(), "ERR_INTERNAL", http.StatusInternalServerError)
}

// httpStatus maps a domain error code to its HTTP status.
func httpStatus(code core.ErrorCode) int {
	switch code {
	case core.CodeUnauthenticated:
		return http.StatusUnauthorized
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict, core.CodeSessionAlreadyClosed, core.CodeMappingOverlap:
		return http.StatusConflict
	case core.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case core.CodeVarianceReasonsRequired:
		return http.StatusUnprocessableEntity
	case core.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
