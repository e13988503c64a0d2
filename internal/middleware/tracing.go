package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes the tour adds to the server span of a request.
const (
	AttrRequestID = "tour.request_id"
	AttrSessionID = "tour.session_id"
)

// Tracing starts a server span per request with W3C trace context
// propagation. Spans are named after the route pattern ("PATCH
// /api/scenes/{id}") and carry the request id; the session id is added by
// SetSessionID once the handler has bound the session. Place it after
// RequestID.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetRequestID(r.Context()); id != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String(AttrRequestID, id))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(tagged, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
		)
	}
}

// tagSession records the tour session on the active span, if any.
func tagSession(ctx context.Context, id string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(AttrSessionID, id))
}

// TraceID returns the id of the trace active in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
