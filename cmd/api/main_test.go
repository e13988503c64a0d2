// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/panotour/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                config.DefaultPort,
		Env:                 "test",
		DocstoreDriver:      config.DriverMemory,
		SessionSecret:       "test-secret",
		SessionTTLHours:     1,
		ReselectPolicy:      config.DefaultReselectPolicy,
		PlaceholderImageURL: config.DefaultPlaceholderImageURL,
		ImageMaxWidth:       config.DefaultImageMaxWidth,
		TracingExporter:     config.DefaultTracingExporter,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*app, *bytes.Buffer) {
	t.Helper()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	t.Cleanup(func() { a.close(context.Background(), logger) })
	return a, &logBuf
}

// TestApp_EmptyStoreShowsPlaceholder tests the fully wired server on an empty
// memory store: a session is created and the placeholder sky is shown.
func TestApp_EmptyStoreShowsPlaceholder(t *testing.T) {
	a, logBuf := newTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Tour-Session") == "" {
		t.Error("expected a session token header")
	}

	var resp struct {
		View struct {
			Display struct {
				Sky string `json:"sky"`
			} `json:"display"`
		} `json:"view"`
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.View.Display.Sky != config.DefaultPlaceholderImageURL {
		t.Errorf("expected placeholder sky, got %q", resp.View.Display.Sky)
	}
	if resp.Outcome != "placeholder" {
		t.Errorf("expected placeholder outcome, got %q", resp.Outcome)
	}

	if !strings.Contains(logBuf.String(), `"session_id"`) {
		t.Error("expected request log to carry the session id")
	}
}

func TestApp_ReadyAndMetrics(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/ready: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics: expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected metric %s to be exposed", name)
		}
	}
}

func TestApp_UploadsDisabledWithoutR2(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/sign",
		strings.NewReader(`{"contentType":"image/jpeg","sizeBytes":10}`))
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestApp_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocstoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "tour.db")
	a, _ := newTestApp(t, cfg)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"database":"ok"`) {
		t.Errorf("expected database check, got %s", w.Body.String())
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"invalid redis url", func(c *config.Config) { c.RedisURL = "not a url" }},
		{"invalid reselect policy", func(c *config.Config) { c.ReselectPolicy = "keep" }},
		{"incomplete r2 config", func(c *config.Config) { c.R2BucketName = "panoramas" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// TestGracefulShutdown_InFlightRequests tests that in-flight requests complete before shutdown.
func TestGracefulShutdown_InFlightRequests(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	a, _ := newTestApp(t, testConfig(t))
	handlerStarted := make(chan struct{})
	handlerCanContinue := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerCanContinue
		a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	})

	server := &http.Server{Handler: mux, ReadTimeout: 15 * time.Second}
	serverStopped := make(chan struct{})
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	type result struct {
		status int
		err    error
	}
	requestDone := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + listener.Addr().String() + "/slow")
		if err != nil {
			requestDone <- result{err: err}
			return
		}
		resp.Body.Close()
		requestDone <- result{status: resp.StatusCode}
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler failed to start in time")
	}

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownDone <- server.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(handlerCanContinue)

	select {
	case r := <-requestDone:
		if r.err != nil {
			t.Fatalf("request error: %v", r.err)
		}
		if r.status != http.StatusOK {
			t.Errorf("expected status 200, got %d", r.status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request failed to complete in time")
	}

	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Errorf("shutdown error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("shutdown failed to complete in time")
	}
	<-serverStopped
}
