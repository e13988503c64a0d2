package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/panotour/internal/idempotency"
	"github.com/onnwee/panotour/internal/middleware"
)

// ServiceName identifies the API in traces and on the root endpoint.
const ServiceName = "panotour-api"

// Version is reported by the root endpoint.
var Version = "0.1.0"

// RouterConfig wires the handlers and middleware of the API server.
type RouterConfig struct {
	Tour    *TourHandlers
	Uploads *UploadHandlers
	Health  *HealthHandlers

	Logger *slog.Logger

	// Metrics and Gatherer are optional. Without a gatherer /metrics is not
	// mounted.
	Metrics  *middleware.Metrics
	Gatherer prometheus.Gatherer

	// RateLimitStore enables rate limiting when set.
	RateLimitStore middleware.RateLimitStore
	GlobalLimit    middleware.RateLimitConfig
	WriteLimit     middleware.RateLimitConfig
	UploadLimit    middleware.RateLimitConfig

	// Idempotency enables Idempotency-Key replay on creation routes when set.
	Idempotency idempotency.Repository

	CORSOrigins    []string
	TracingEnabled bool
}

// idempotentRoutes are the POST routes that create records.
var idempotentRoutes = map[string]bool{
	"/api/scenarios": true,
	"/api/scenes":    true,
	"/api/hotspots":  true,
	"/api/uploads":   true,
}

// NewRouter builds the API handler: the route table wrapped in
// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> RateLimiter ->
// Idempotency.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keyFunc := middleware.SessionKeyFunc(middleware.SessionHeader, SessionCookie)
	limit := func(config middleware.RateLimitConfig, h http.Handler) http.Handler {
		if cfg.RateLimitStore == nil {
			return h
		}
		return middleware.RateLimiter(cfg.RateLimitStore, config, keyFunc, cfg.Metrics)(h)
	}
	// mutation applies the write limit to everything but reads.
	mutation := func(h http.HandlerFunc) http.Handler {
		limited := limit(cfg.WriteLimit, h)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				h(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()

	if t := cfg.Tour; t != nil {
		mux.HandleFunc("/api/view", t.GetView)
		mux.HandleFunc("/api/view/ws", t.Stream)
		mux.HandleFunc("/api/view/open", t.Open)
		mux.HandleFunc("/api/view/reload", t.Reload)
		mux.HandleFunc("/api/view/navigate", t.Navigate)
		mux.HandleFunc("/api/view/click", t.Click)

		mux.Handle("/api/scenarios", mutation(t.Scenarios))
		mux.Handle("/api/session/scenario", mutation(t.SelectScenario))
		mux.Handle("/api/scenes", mutation(t.Scenes))
		mux.Handle("/api/scenes/", mutation(t.Scene))
		mux.Handle("/api/hotspots", mutation(t.Hotspots))
		mux.Handle("/api/hotspots/positions", mutation(t.SavePositions))
		mux.Handle("/api/hotspots/", mutation(t.Hotspot))

		mux.HandleFunc("/api/editor", t.Editor)
		mux.Handle("/api/editor/select", mutation(t.SelectMarker))
		mux.Handle("/api/editor/stage", mutation(t.Stage))
		mux.Handle("/api/editor/pick", mutation(t.Pick))
		mux.Handle("/api/editor/save", mutation(t.Save))
		mux.Handle("/api/editor/cancel", mutation(t.Cancel))
	}

	if u := cfg.Uploads; u != nil {
		mux.Handle("/api/uploads", limit(cfg.UploadLimit, http.HandlerFunc(u.Upload)))
		mux.Handle("/api/uploads/sign", limit(cfg.UploadLimit, http.HandlerFunc(u.SignUpload)))
	}

	health := cfg.Health
	if health == nil {
		health = NewHealthHandlers(HealthHandlersConfig{MetricsEnabled: cfg.Gatherer != nil})
	}
	mux.HandleFunc("/health", health.Health)
	mux.HandleFunc("/ready", health.Ready)

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, r.Context(), http.StatusOK, map[string]string{
			"service": ServiceName,
			"version": Version,
		})
	})

	var handler http.Handler = mux
	if cfg.Idempotency != nil {
		handler = middleware.Idempotency(cfg.Idempotency, idempotentRoutes, keyFunc, cfg.Metrics)(handler)
	}
	if cfg.RateLimitStore != nil {
		handler = limit(cfg.GlobalLimit, handler)
	}
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins))(handler)
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing(ServiceName)(handler)
	}
	return middleware.RequestID(handler)
}
