package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/panotour/internal/middleware"
)

// syncBuffer guards log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

// tourChain wraps h the way the API server does.
func tourChain(h http.Handler, logs *syncBuffer, metrics *middleware.Metrics, origins ...string) http.Handler {
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	limit := middleware.RateLimiter(middleware.NewInMemoryRateLimitStore(), middleware.DefaultGlobalLimit(),
		middleware.SessionKeyFunc(middleware.SessionHeader, "tour_session"), metrics)

	h = limit(h)
	h = middleware.CORS(middleware.DefaultCORSConfig(origins))(h)
	h = middleware.HTTPMetrics(metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Tracing("panotour-test")(h)
	return middleware.RequestID(h)
}

func TestChain_RenderStreamUpgrades(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.SetSessionID(r.Context(), r.Header.Get(middleware.SessionHeader))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]string{"op": "hello", "requestId": middleware.GetRequestID(r.Context())})
	})

	logs := &syncBuffer{}
	metrics := middleware.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	srv := httptest.NewServer(tourChain(stream, logs, metrics, "https://viewer.tour.example"))
	defer srv.Close()

	header := http.Header{}
	header.Set(middleware.SessionHeader, "sess-ws")
	header.Set(middleware.RequestIDHeader, "req-ws-1")
	header.Set("Origin", "https://viewer.tour.example")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/view/ws", header)
	if err != nil {
		t.Fatalf("dial through middleware chain failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["op"] != "hello" || hello["requestId"] != "req-ws-1" {
		t.Errorf("hello = %v", hello)
	}
	conn.Close()

	// The entry is written once the handler has returned.
	deadline := time.Now().Add(2 * time.Second)
	for logs.lines()[0] == "" {
		if time.Now().After(deadline) {
			t.Fatal("no log entry for the render stream")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var entry struct {
		Status    int    `json:"status"`
		SessionID string `json:"session_id"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal([]byte(logs.lines()[0]), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.Status != http.StatusSwitchingProtocols || entry.SessionID != "sess-ws" || entry.RequestID != "req-ws-1" {
		t.Errorf("log entry = %+v", entry)
	}

	expected := `
# HELP http_requests_total HTTP requests by method, route pattern and status
# TYPE http_requests_total counter
http_requests_total{method="GET",path="/api/view/ws",status="101"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), middleware.MetricHTTPRequestsTotal); err != nil {
		t.Errorf("unexpected request metrics: %v", err)
	}
}

func TestChain_CrossOriginEditorSave(t *testing.T) {
	logs := &syncBuffer{}
	metrics := middleware.NewMetrics()
	save := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.SetSessionID(r.Context(), "sess-editor")
		middleware.SetErrorCode(r.Context(), "edit_mode_required")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"edit_mode_required","message":"Enter edit mode first"}}`))
	})
	h := tourChain(save, logs, metrics, "https://editor.tour.example")

	req := httptest.NewRequest(http.MethodPost, "/api/editor/save", nil)
	req.Header.Set("Origin", "https://editor.tour.example")
	req.Header.Set(middleware.SessionHeader, "token-editor")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://editor.tour.example" {
		t.Error("CORS headers missing on an error response")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), middleware.SessionHeader) {
		t.Errorf("%s not exposed", middleware.SessionHeader)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" || rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Errorf("headers = %v", rec.Header())
	}

	var entry struct {
		Level     string `json:"level"`
		ErrorCode string `json:"error_code"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(logs.lines()[0]), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.Level != "WARN" || entry.ErrorCode != "edit_mode_required" || entry.SessionID != "sess-editor" {
		t.Errorf("log entry = %+v", entry)
	}
}

func TestChain_ForeignOriginRejectedBeforeLimiter(t *testing.T) {
	logs := &syncBuffer{}
	metrics := middleware.NewMetrics()
	h := tourChain(http.NotFoundHandler(), logs, metrics, "https://editor.tour.example")

	req := httptest.NewRequest(http.MethodPost, "/api/scenes", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("rejected origin consumed rate limit quota")
	}
	if !strings.Contains(logs.lines()[0], `"error_code":"origin_not_allowed"`) {
		t.Errorf("log = %s", logs.lines()[0])
	}
}
