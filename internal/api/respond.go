package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/panotour/internal/docstore"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/persist"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/session"
	"github.com/onnwee/panotour/internal/upload"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// decodeJSON reads a JSON body into v. It writes a 400 and returns false on
// malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// methodNotAllowed writes a 405 listing the allowed methods.
func methodNotAllowed(w http.ResponseWriter, ctx context.Context, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}

// writeDomainError maps errors from the tour packages to API errors.
func writeDomainError(w http.ResponseWriter, ctx context.Context, err error) {
	status, code, message := domainError(ctx, err)
	WriteError(w, ctx, status, code, message)
}

// writeSessionError is writeDomainError for a bound session: the session's
// pending notices go into the error body. An unmapped error that came with an
// error notice is a failed store write and is reported with that notice.
func writeSessionError(w http.ResponseWriter, ctx context.Context, s *session.Session, err error) {
	notices := s.Alerts().Drain()
	status, code, message := domainError(ctx, err)
	if code == ErrCodeInternal {
		for i := len(notices) - 1; i >= 0; i-- {
			if notices[i].Level == persist.LevelError {
				status, code, message = http.StatusServiceUnavailable, ErrCodeStoreUnavailable, notices[i].Message
				break
			}
		}
	}
	writeErrorResponse(w, ctx, status, ErrorResponse{
		Error:   ErrorDetail{Code: code, Message: message},
		Notices: notices,
	})
}

func domainError(ctx context.Context, err error) (status int, code, message string) {
	switch {
	case errors.Is(err, session.ErrEditModeRequired):
		return http.StatusForbidden, ErrCodeEditModeRequired, "Edit mode is required"
	case errors.Is(err, session.ErrMarkerNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Marker not found"
	case errors.Is(err, session.ErrNoScene):
		return http.StatusBadRequest, ErrCodeNoScene, "No scene is displayed"
	case errors.Is(err, editor.ErrNothingSelected):
		return http.StatusBadRequest, ErrCodeNothingSelected, "No hotspot is selected"
	case errors.Is(err, scene.ErrScenarioNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Scenario not found"
	case errors.Is(err, scene.ErrSceneNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Scene not found"
	case errors.Is(err, scene.ErrHotspotNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Hotspot not found"
	case errors.Is(err, scene.ErrInvalidScene), errors.Is(err, scene.ErrInvalidHotspot),
		errors.Is(err, persist.ErrImageRequired), errors.Is(err, persist.ErrNameRequired):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusBadRequest, ErrCodeUnsupportedType,
			"Unsupported content type. Allowed types: image/jpeg, image/png"
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "File size exceeds maximum allowed"
	case errors.Is(err, upload.ErrEmptyFile):
		return http.StatusBadRequest, ErrCodeValidation, "File is empty"
	default:
		slog.ErrorContext(ctx, "request failed", "error", err)
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
	}
}
