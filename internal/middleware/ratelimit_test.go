package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// fakeClock drives the in-memory store's window without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedStore() (*InMemoryRateLimitStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewInMemoryRateLimitStore()
	store.now = clock.now
	return store, clock
}

func TestInMemoryRateLimitStore_Window(t *testing.T) {
	store, clock := newClockedStore()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i, want := range []int{2, 1, 0} {
		allowed, remaining, _ := store.Allow(ctx, "session:a", cfg)
		if !allowed || remaining != want {
			t.Fatalf("request %d: allowed=%v remaining=%d, want true/%d", i+1, allowed, remaining, want)
		}
	}

	clock.advance(20 * time.Second)
	allowed, remaining, retryAfter := store.Allow(ctx, "session:a", cfg)
	if allowed || remaining != 0 {
		t.Fatalf("fourth request: allowed=%v remaining=%d", allowed, remaining)
	}
	if retryAfter != 40 {
		t.Errorf("retryAfter = %d, want 40", retryAfter)
	}

	clock.advance(40 * time.Second)
	if allowed, remaining, _ := store.Allow(ctx, "session:a", cfg); !allowed || remaining != 2 {
		t.Errorf("first request of new window: allowed=%v remaining=%d", allowed, remaining)
	}
}

func TestInMemoryRateLimitStore_KeysIndependent(t *testing.T) {
	store, _ := newClockedStore()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	ctx := context.Background()

	store.Allow(ctx, "session:editor", cfg)
	if allowed, _, _ := store.Allow(ctx, "session:editor", cfg); allowed {
		t.Error("editor's second request allowed")
	}
	if allowed, _, _ := store.Allow(ctx, "session:viewer", cfg); !allowed {
		t.Error("viewer blocked by the editor's window")
	}
}

func TestInMemoryRateLimitStore_Concurrent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(context.Background(), "session:busy", cfg); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed %d requests, want exactly 50", allowed)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store, clock := newClockedStore()
	short := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}
	long := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour}
	ctx := context.Background()

	store.Allow(ctx, "session:a", short)
	store.Allow(ctx, "session:b", short)
	store.Allow(ctx, "session:c", long)

	if n := store.Cleanup(); n != 0 {
		t.Errorf("Cleanup() before expiry removed %d", n)
	}
	clock.advance(2 * time.Second)
	if n := store.Cleanup(); n != 2 {
		t.Errorf("Cleanup() removed %d, want 2", n)
	}
	if allowed, _, _ := store.Allow(ctx, "session:c", long); allowed {
		t.Error("unexpired window was dropped by Cleanup")
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr string
	}{
		{"defaults", DefaultWriteLimit(), ""},
		{"zero requests", RateLimitConfig{WindowDuration: time.Minute}, "RequestsPerWindow"},
		{"zero window", RateLimitConfig{RequestsPerWindow: 1}, "WindowDuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultLimits_Ordering(t *testing.T) {
	global, write, upload := DefaultGlobalLimit(), DefaultWriteLimit(), DefaultUploadLimit()
	if !(global.RequestsPerWindow > write.RequestsPerWindow && write.RequestsPerWindow > upload.RequestsPerWindow) {
		t.Errorf("limits not ordered global > write > upload: %d, %d, %d",
			global.RequestsPerWindow, write.RequestsPerWindow, upload.RequestsPerWindow)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "10.0.0.1:5000", nil, "10.0.0.1"},
		{"remote addr without port", "10.0.0.1", nil, "10.0.0.1"},
		{"first forwarded hop", "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"real ip", "10.0.0.1:5000", map[string]string{"X-Real-IP": " 203.0.113.7 "}, "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc()(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionKeyFunc(t *testing.T) {
	keyFunc := SessionKeyFunc(SessionHeader, "tour_session")

	bare := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	bare.RemoteAddr = "192.168.1.1:12345"
	if got := keyFunc(bare); got != "ip:192.168.1.1" {
		t.Errorf("no session: key = %q, want ip:192.168.1.1", got)
	}

	byHeader := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	byHeader.Header.Set(SessionHeader, "token-a")
	byCookie := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	byCookie.AddCookie(&http.Cookie{Name: "tour_session", Value: "token-a"})
	other := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	other.Header.Set(SessionHeader, "token-b")

	hk, ck := keyFunc(byHeader), keyFunc(byCookie)
	if !strings.HasPrefix(hk, "session:") || strings.Contains(hk, "token-a") {
		t.Errorf("header key = %q, want hashed session key", hk)
	}
	if hk != ck {
		t.Errorf("header key %q != cookie key %q for the same token", hk, ck)
	}
	if hk == keyFunc(other) {
		t.Error("different tokens share a key")
	}
}

func TestRateLimiter_SessionsShareAddressButNotQuota(t *testing.T) {
	store, _ := newClockedStore()
	m := NewMetrics()
	h := RateLimiter(store, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		SessionKeyFunc(SessionHeader, "tour_session"), m)(okHandler())

	send := func(session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/editor/stage", nil)
		req.RemoteAddr = "198.51.100.4:443"
		req.Header.Set(SessionHeader, session)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	send("editor-1")
	first := send("editor-1")
	if first.Code != http.StatusOK || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("second request: status=%d remaining=%q", first.Code, first.Header().Get("X-RateLimit-Remaining"))
	}

	blocked := send("editor-1")
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", blocked.Code)
	}
	if ra, err := strconv.Atoi(blocked.Header().Get("Retry-After")); err != nil || ra < 1 || ra > 60 {
		t.Errorf("Retry-After = %q", blocked.Header().Get("Retry-After"))
	}
	if blocked.Header().Get("X-RateLimit-Limit") != "2" || blocked.Header().Get("X-RateLimit-Reset") == "" {
		t.Errorf("quota headers = %v", blocked.Header())
	}
	var body struct {
		Error struct{ Code string } `json:"error"`
	}
	if err := json.Unmarshal(blocked.Body.Bytes(), &body); err != nil || body.Error.Code != "rate_limited" {
		t.Errorf("body = %s", blocked.Body.String())
	}

	// A second editor behind the same NAT has its own window.
	if rec := send("editor-2"); rec.Code != http.StatusOK {
		t.Errorf("other session: status = %d, want 200", rec.Code)
	}

	if got := testutil.ToFloat64(m.rateLimitBlocked.WithLabelValues("/api/editor/stage", "session")); got != 1 {
		t.Errorf("blocked counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rateLimitRequests.WithLabelValues("/api/editor/stage", "session")); got != 4 {
		t.Errorf("request counter = %v, want 4", got)
	}
}

func TestRateLimiter_AnonymousKeyedByIP(t *testing.T) {
	store, _ := newClockedStore()
	m := NewMetrics()
	h := RateLimiter(store, RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
		SessionKeyFunc(SessionHeader, "tour_session"), m)(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/scenes/7", nil)
		req.RemoteAddr = "198.51.100.4:443"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, want)
		}
	}
	if got := testutil.ToFloat64(m.rateLimitBlocked.WithLabelValues("/api/scenes/{id}", "ip")); got != 1 {
		t.Errorf("blocked counter for ip keys = %v, want 1", got)
	}
}

func TestRateLimiter_RecordsErrorCode(t *testing.T) {
	store, _ := newClockedStore()
	var code string
	inner := RateLimiter(store, RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, IPKeyFunc(), nil)(okHandler())
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestFieldsKey{}, &requestFields{})
		inner.ServeHTTP(w, r.WithContext(ctx))
		code = GetErrorCode(ctx)
	})

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/view", nil))
	}
	if code != "rate_limited" {
		t.Errorf("error code = %q, want rate_limited", code)
	}
}
