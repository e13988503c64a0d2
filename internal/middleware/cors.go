package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// SessionHeader carries the tour session token for clients that cannot use
// the session cookie.
const SessionHeader = "X-Tour-Session"

// IdempotentReplayedHeader marks a response served from the idempotency store.
const IdempotentReplayedHeader = "Idempotent-Replayed"

// CORSConfig configures cross-origin access to the tour API. Origins are
// matched exactly; there are no wildcards.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds
}

// DefaultCORSConfig returns the configuration used by the API server for the
// given origins. Credentials are allowed so the session cookie survives
// cross-origin editor requests, and the session header is exposed so a
// viewer can pick up the token it was issued.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", SessionHeader, RequestIDHeader, IdempotencyKeyHeader},
		ExposedHeaders:   []string{SessionHeader, RequestIDHeader, IdempotentReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           3600,
	}
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Requests from other origins get 403. With no origins configured
// the middleware is a no-op.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				SetErrorCode(r.Context(), "origin_not_allowed")
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}
