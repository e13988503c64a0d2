package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/persist"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/session"
	"github.com/onnwee/panotour/internal/upload"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, context.Background(), http.StatusForbidden, ErrCodeEditModeRequired, `Switch to "edit" mode`)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to parse body: %v, body: %s", err, w.Body.String())
	}
	if _, ok := raw["notices"]; ok {
		t.Error("notices present without any queued")
	}
	var resp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != ErrCodeEditModeRequired || resp.Error.Message != `Switch to "edit" mode` {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestWriteErrorResponse_CarriesNotices(t *testing.T) {
	w := httptest.NewRecorder()
	writeErrorResponse(w, context.Background(), http.StatusServiceUnavailable, ErrorResponse{
		Error: ErrorDetail{Code: ErrCodeStoreUnavailable, Message: "Could not save hotspot positions"},
		Notices: []persist.Notice{
			{Level: persist.LevelSuccess, Message: "Scene created"},
			{Level: persist.LevelError, Message: "Could not save hotspot positions"},
		},
	})

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if len(resp.Notices) != 2 || resp.Notices[1].Level != persist.LevelError {
		t.Errorf("notices = %+v", resp.Notices)
	}
}

func TestDomainError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
	}{
		{session.ErrEditModeRequired, ErrCodeEditModeRequired},
		{fmt.Errorf("save positions: %w", session.ErrEditModeRequired), ErrCodeEditModeRequired},
		{editor.ErrNothingSelected, ErrCodeNothingSelected},
		{session.ErrNoScene, ErrCodeNoScene},
		{session.ErrMarkerNotFound, ErrCodeNotFound},
		{scene.ErrScenarioNotFound, ErrCodeNotFound},
		{scene.ErrSceneNotFound, ErrCodeNotFound},
		{scene.ErrHotspotNotFound, ErrCodeNotFound},
		{persist.ErrNameRequired, ErrCodeValidation},
		{upload.ErrUnsupportedType, ErrCodeUnsupportedType},
		{upload.ErrFileTooLarge, ErrCodeFileTooLarge},
		{errors.New("connection reset"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code, message := domainError(context.Background(), tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if status != StatusCodeMapping(code) {
				t.Errorf("status %d disagrees with StatusCodeMapping(%q) = %d", status, code, StatusCodeMapping(code))
			}
			if message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := map[string]int{
		ErrCodeEditModeRequired: http.StatusForbidden,
		ErrCodeNothingSelected:  http.StatusBadRequest,
		ErrCodeStoreUnavailable: http.StatusServiceUnavailable,
		ErrCodeUploadsDisabled:  http.StatusServiceUnavailable,
		ErrCodeRateLimited:      http.StatusTooManyRequests,
		ErrCodeAuthFailed:       http.StatusUnauthorized,
		"something_new":         http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := StatusCodeMapping(code); got != want {
			t.Errorf("StatusCodeMapping(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestWriteError_LoggedWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeNothingSelected, "No hotspot is selected")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/editor/stage", nil))

	var entry struct {
		Level     string `json:"level"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	if entry.Level != "WARN" || entry.ErrorCode != ErrCodeNothingSelected {
		t.Errorf("log entry = %+v", entry)
	}
}
