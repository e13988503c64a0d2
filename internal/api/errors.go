package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/persist"
)

// Error codes returned in the "code" field of error bodies.
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeAuthFailed       = "auth_failed" // invalid or expired session token
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeForbidden        = "forbidden"
	ErrCodeConflict         = "conflict"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeEditModeRequired = "edit_mode_required" // authoring call in view mode
	ErrCodeNothingSelected  = "nothing_selected"   // editor call with no marker selected
	ErrCodeNoScene          = "no_scene"           // no scene is displayed
	ErrCodeUnsupportedType  = "unsupported_type"
	ErrCodeFileTooLarge     = "file_too_large"
	ErrCodeUploadsDisabled  = "uploads_disabled" // no object storage configured
	ErrCodeStoreUnavailable = "store_unavailable"
)

var statusByCode = map[string]int{
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeNothingSelected:  http.StatusBadRequest,
	ErrCodeNoScene:          http.StatusBadRequest,
	ErrCodeUnsupportedType:  http.StatusBadRequest,
	ErrCodeAuthFailed:       http.StatusUnauthorized,
	ErrCodeForbidden:        http.StatusForbidden,
	ErrCodeEditModeRequired: http.StatusForbidden,
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeConflict:         http.StatusConflict,
	ErrCodeFileTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:      http.StatusTooManyRequests,
	ErrCodeUploadsDisabled:  http.StatusServiceUnavailable,
	ErrCodeStoreUnavailable: http.StatusServiceUnavailable,
	ErrCodeInternal:         http.StatusInternalServerError,
}

// StatusCodeMapping returns the HTTP status for an error code; unknown codes
// map to 500.
func StatusCodeMapping(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every failed API call:
// {"error":{"code":"...","message":"..."},"notices":[...]}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
	// Notices are the session's pending notices, including the one
	// describing this failure.
	Notices []persist.Notice `json:"notices,omitempty"`
}

// ErrorDetail holds the machine-readable code and a message for the user.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error body and records code for the request log.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	writeErrorResponse(w, ctx, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func writeErrorResponse(w http.ResponseWriter, ctx context.Context, status int, resp ErrorResponse) {
	ctx = middleware.SetErrorCode(ctx, resp.Error.Code)

	data, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
