package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs a recording tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestTracing_SpanNamedByRoute(t *testing.T) {
	rec := recordSpans(t)
	h := Tracing("panotour-test")(okHandler())

	for _, target := range []string{"/api/scenes/3", "/api/scenes/9", "/cgi-bin/x"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, target, nil))
	}

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	want := []string{"PATCH /api/scenes/{id}", "PATCH /api/scenes/{id}", "PATCH unmatched"}
	for i, s := range spans {
		if s.Name() != want[i] {
			t.Errorf("span %d name = %q, want %q", i, s.Name(), want[i])
		}
	}
}

func TestTracing_TourAttributes(t *testing.T) {
	rec := recordSpans(t)
	h := RequestID(Tracing("panotour-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSessionID(r.Context(), "sess-42")
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/view/open", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	attrs := spanAttrs(spans[0])
	if attrs[AttrRequestID] != "req-7" {
		t.Errorf("%s = %q, want req-7", AttrRequestID, attrs[AttrRequestID])
	}
	if attrs[AttrSessionID] != "sess-42" {
		t.Errorf("%s = %q, want sess-42", AttrSessionID, attrs[AttrSessionID])
	}
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	recordSpans(t)
	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen string
	h := Tracing("panotour-test")(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.Header.Set("traceparent", parent)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("TraceID() = %q, want the caller's trace", seen)
	}
	var entry struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.TraceID != seen {
		t.Errorf("logged trace_id = %q, want %q", entry.TraceID, seen)
	}
}

func TestTraceID_NoSpan(t *testing.T) {
	if id := TraceID(context.Background()); id != "" {
		t.Errorf("TraceID() = %q, want empty", id)
	}
}
