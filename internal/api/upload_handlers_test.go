package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/upload"
)

// fakeUploader records uploads and validates like upload.Service.
type fakeUploader struct {
	maxSize  int64
	uploaded []upload.File
	body     []byte
}

func (f *fakeUploader) Upload(_ context.Context, file upload.File) (*upload.Uploaded, error) {
	if err := upload.ValidateContentType(file.ContentType); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, file)
	f.body = data
	return &upload.Uploaded{
		Key:       upload.KeyPrefix + "2024/01/pano.jpg",
		PublicURL: "https://cdn.example/" + upload.KeyPrefix + "2024/01/pano.jpg",
		Width:     4096,
		Height:    2048,
	}, nil
}

func (f *fakeUploader) GenerateSignedURL(_ context.Context, req upload.SignedURLRequest) (*upload.SignedURLResponse, error) {
	if err := upload.ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	if req.SizeBytes > f.maxSize {
		return nil, upload.ErrFileTooLarge
	}
	return &upload.SignedURLResponse{
		URL:       "https://r2.example/signed",
		Key:       upload.KeyPrefix + "2024/01/" + req.Filename,
		PublicURL: "https://cdn.example/" + upload.KeyPrefix + "2024/01/" + req.Filename,
		ExpiresAt: time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
	}, nil
}

func (f *fakeUploader) MaxSizeBytes() int64 {
	return f.maxSize
}

// newUploadServer returns a server with uploads enabled and a session in the
// given mode.
func newUploadServer(t *testing.T, edit bool) (*testServer, *fakeUploader) {
	t.Helper()
	fake := &fakeUploader{maxSize: 1 << 20}
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Uploads = NewUploadHandlers(fake, cfg.Tour.sessions)
	})
	w := s.do(t, http.MethodPost, "/api/view/open", OpenRequest{Edit: edit})
	if w.Code != http.StatusOK {
		t.Fatalf("open: expected status 200, got %d", w.Code)
	}
	return s, fake
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.SessionHeader, s.token)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestUpload_Success(t *testing.T) {
	s, fake := newUploadServer(t, true)
	body, ct := multipartBody(t, "file", "pano.jpg", "image/jpeg", []byte("jpeg-bytes"))

	w := s.upload(t, body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp upload.Uploaded
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PublicURL == "" || resp.Width != 4096 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(fake.uploaded) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(fake.uploaded))
	}
	if got := fake.uploaded[0]; got.Name != "pano.jpg" || got.ContentType != "image/jpeg" {
		t.Errorf("unexpected file metadata: %+v", got)
	}
	if string(fake.body) != "jpeg-bytes" {
		t.Errorf("expected body to be forwarded, got %q", fake.body)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		edit       bool
		field      string
		mime       string
		wantStatus int
		wantCode   string
	}{
		{"view mode", false, "file", "image/jpeg", http.StatusForbidden, ErrCodeEditModeRequired},
		{"missing field", true, "image", "image/jpeg", http.StatusBadRequest, ErrCodeBadRequest},
		{"unsupported type", true, "file", "image/gif", http.StatusBadRequest, ErrCodeUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newUploadServer(t, tt.edit)
			body, ct := multipartBody(t, tt.field, "pano.img", tt.mime, []byte("data"))

			w := s.upload(t, body, ct)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error.Code != tt.wantCode {
				t.Errorf("expected error code %s, got %s", tt.wantCode, resp.Error.Code)
			}
			if len(fake.uploaded) != 0 {
				t.Error("expected nothing to be stored")
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	s, _ := newUploadServer(t, true)
	data := bytes.Repeat([]byte("x"), 1<<20+maxBodyBytes+1)
	body, ct := multipartBody(t, "file", "pano.jpg", "image/jpeg", data)

	w := s.upload(t, body, ct)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", w.Code)
	}
}

func TestSignUpload(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"invalid json", "invalid json", http.StatusBadRequest, ErrCodeBadRequest},
		{"missing content type", SignUploadRequest{SizeBytes: 1024}, http.StatusBadRequest, ErrCodeValidation},
		{"zero size", SignUploadRequest{ContentType: "image/jpeg"}, http.StatusBadRequest, ErrCodeValidation},
		{"negative size", SignUploadRequest{ContentType: "image/jpeg", SizeBytes: -1}, http.StatusBadRequest, ErrCodeValidation},
		{"unsupported type", SignUploadRequest{ContentType: "audio/mpeg", SizeBytes: 1024}, http.StatusBadRequest, ErrCodeUnsupportedType},
		{"too large", SignUploadRequest{ContentType: "image/png", SizeBytes: 2 << 20}, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newUploadServer(t, true)

			w := s.do(t, http.MethodPost, "/api/uploads/sign", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error.Code != tt.wantCode {
				t.Errorf("expected error code %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestSignUpload_Success(t *testing.T) {
	s, _ := newUploadServer(t, true)

	w := s.do(t, http.MethodPost, "/api/uploads/sign", SignUploadRequest{
		Filename:    "pano.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   1024,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SignUploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL != "https://r2.example/signed" {
		t.Errorf("unexpected url %q", resp.URL)
	}
	if resp.PublicURL == "" {
		t.Error("expected public url")
	}
	if resp.ExpiresAt != "2024-01-01T00:05:00Z" {
		t.Errorf("expected RFC 3339 expiry, got %q", resp.ExpiresAt)
	}
}

func TestSignUpload_RequiresEditMode(t *testing.T) {
	s, _ := newUploadServer(t, false)

	w := s.do(t, http.MethodPost, "/api/uploads/sign", SignUploadRequest{ContentType: "image/jpeg", SizeBytes: 10})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
}
