package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// readyTimeout bounds the whole readiness check.
const readyTimeout = 5 * time.Second

// Check results reported per backend.
const (
	checkOK       = "ok"
	checkError    = "error"
	checkDisabled = "disabled" // backend not configured
)

// HealthChecker is a backend the API depends on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlersConfig names the backends checked by /ready. Nil checkers are
// reported as disabled: the in-memory store needs no database, and sessions
// and rate limits fall back to memory without Redis.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	StorageChecker HealthChecker // panorama object storage
	MetricsEnabled bool
}

type namedChecker struct {
	name    string
	checker HealthChecker
}

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	backends       []namedChecker
	metricsEnabled bool
}

// NewHealthHandlers creates the health handlers.
func NewHealthHandlers(cfg HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		backends: []namedChecker{
			{"database", cfg.DBChecker},
			{"redis", cfg.RedisChecker},
			{"storage", cfg.StorageChecker},
		},
		metricsEnabled: cfg.MetricsEnabled,
	}
}

// HealthResponse is the body of both endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func newHealthResponse(status string, checks map[string]string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Health handles GET /health. It never touches a backend.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r.Context(), http.MethodGet)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newHealthResponse("healthy", map[string]string{"runtime": checkOK}))
}

// Ready handles GET /ready. Configured backends are checked concurrently; any
// failure answers 503 so the instance leaves the load balancer.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r.Context(), http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.backends)+1)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, b := range h.backends {
		if b.checker == nil {
			checks[b.name] = checkDisabled
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := checkOK
			if err := b.checker.HealthCheck(ctx); err != nil {
				slog.WarnContext(ctx, "readiness check failed", "backend", b.name, "error", err)
				result = checkError
			}
			mu.Lock()
			checks[b.name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	if h.metricsEnabled {
		checks["metrics"] = checkOK
	}

	status, code := "healthy", http.StatusOK
	for _, result := range checks {
		if result == checkError {
			status, code = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, r.Context(), code, newHealthResponse(status, checks))
}
