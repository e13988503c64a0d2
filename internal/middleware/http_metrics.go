package middleware

import (
	"net/http"
	"strings"
	"time"
)

// staticRoutes are the API paths without dynamic segments.
var staticRoutes = map[string]bool{
	"/":                       true,
	"/api/view":               true,
	"/api/view/ws":            true,
	"/api/view/open":          true,
	"/api/view/reload":        true,
	"/api/view/navigate":      true,
	"/api/view/click":         true,
	"/api/scenarios":          true,
	"/api/session/scenario":   true,
	"/api/scenes":             true,
	"/api/hotspots":           true,
	"/api/hotspots/positions": true,
	"/api/editor":             true,
	"/api/editor/select":      true,
	"/api/editor/stage":       true,
	"/api/editor/pick":        true,
	"/api/editor/save":        true,
	"/api/editor/cancel":      true,
	"/api/uploads":            true,
	"/api/uploads/sign":       true,
	"/health":                 true,
	"/ready":                  true,
	"/metrics":                true,
}

// idRoutes are the collections addressed as <prefix><id>.
var idRoutes = []string{"/api/scenes/", "/api/hotspots/"}

// unmatchedRoute labels every path outside the route table, so scanners
// cannot grow the label set.
const unmatchedRoute = "unmatched"

// normalizePath maps a request path to its route pattern, for example
// /api/scenes/3 to /api/scenes/{id}.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	for _, prefix := range idRoutes {
		id, ok := strings.CutPrefix(path, prefix)
		if ok && id != "" && !strings.Contains(id, "/") {
			return prefix + "{id}"
		}
	}
	return unmatchedRoute
}

// HTTPMetrics records duration, count and sizes of every request by method,
// route pattern and status. Health checks are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newStatusRecorder(w)
			next.ServeHTTP(rw, r)

			metrics.ObserveHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.status,
				time.Since(start), max(r.ContentLength, 0), rw.size)
		})
	}
}
