package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/panotour/internal/session"
	"github.com/onnwee/panotour/internal/upload"
)

// uploadFormField is the multipart field carrying the panorama.
const uploadFormField = "file"

// SignUploadRequest represents the request body for POST /api/uploads/sign.
type SignUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// SignUploadResponse represents the response for POST /api/uploads/sign.
type SignUploadResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
	ExpiresAt string `json:"expiresAt"` // ISO 8601 format
}

// Uploader stores scene panoramas. *upload.Service implements it.
type Uploader interface {
	Upload(ctx context.Context, f upload.File) (*upload.Uploaded, error)
	GenerateSignedURL(ctx context.Context, req upload.SignedURLRequest) (*upload.SignedURLResponse, error)
	MaxSizeBytes() int64
}

// UploadHandlers holds dependencies for upload HTTP handlers.
type UploadHandlers struct {
	uploader Uploader
	sessions *SessionBinder
}

// NewUploadHandlers creates a new UploadHandlers instance. uploader may be
// nil when no object storage is configured; every upload then fails with 503.
func NewUploadHandlers(uploader Uploader, sessions *SessionBinder) *UploadHandlers {
	return &UploadHandlers{
		uploader: uploader,
		sessions: sessions,
	}
}

// authorize checks that uploads are enabled and the session is in edit mode.
func (h *UploadHandlers) authorize(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	if h.uploader == nil {
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeUploadsDisabled, "Uploads are not configured")
		return r.Context(), false
	}
	s, ctx, err := h.sessions.Bind(w, r)
	if err != nil {
		slog.ErrorContext(ctx, "failed to bind session", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Could not start a tour session")
		return ctx, false
	}
	if !s.Edit() {
		writeDomainError(w, ctx, session.ErrEditModeRequired)
		return ctx, false
	}
	return ctx, true
}

// Upload handles POST /api/uploads: accepts a multipart panorama, sanitises
// it and stores it, returning the URL to use as a scene image.
func (h *UploadHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	ctx, ok := h.authorize(w, r)
	if !ok {
		return
	}

	// Allow room for the multipart envelope on top of the file itself.
	limit := h.uploader.MaxSizeBytes() + maxBodyBytes
	if r.ContentLength > limit {
		writeDomainError(w, ctx, upload.ErrFileTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDomainError(w, ctx, upload.ErrFileTooLarge)
			return
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	stored, err := h.uploader.Upload(ctx, upload.File{
		Name:        header.Filename,
		ContentType: strings.TrimSpace(contentType),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeDomainError(w, ctx, err)
		return
	}

	slog.InfoContext(ctx, "panorama uploaded",
		"key", stored.Key,
		"width", stored.Width,
		"height", stored.Height,
	)
	writeJSON(w, ctx, http.StatusCreated, stored)
}

// SignUpload handles POST /api/uploads/sign: generates a pre-signed upload URL.
func (h *UploadHandlers) SignUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req SignUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ContentType == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "contentType is required")
		return
	}
	if req.SizeBytes <= 0 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "sizeBytes must be positive")
		return
	}

	ctx, ok := h.authorize(w, r)
	if !ok {
		return
	}

	signedURL, err := h.uploader.GenerateSignedURL(ctx, upload.SignedURLRequest{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		writeDomainError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, SignUploadResponse{
		URL:       signedURL.URL,
		Key:       signedURL.Key,
		PublicURL: signedURL.PublicURL,
		ExpiresAt: signedURL.ExpiresAt.Format(time.RFC3339),
	})
}
