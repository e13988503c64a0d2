package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/panotour/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter passes the response through and keeps a copy.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

func writeIdempotencyError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}

// Idempotency replays the stored response of a POST to one of routes when the
// client repeats its Idempotency-Key. Requests without the header pass
// through. Keys are scoped with scope (usually the session key) so two
// sessions never share a response. Only 2xx responses are kept; any other
// outcome releases the key so the client can retry. metrics may be nil.
func Idempotency(repo idempotency.Repository, routes map[string]bool, scope KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					writeIdempotencyError(w, r, http.StatusBadRequest, "idempotency_key_too_long",
						"Idempotency-Key exceeds maximum length of 64 characters")
					return
				}
				writeIdempotencyError(w, r, http.StatusBadRequest, "invalid_idempotency_key", "Invalid Idempotency-Key format")
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			record := &idempotency.Record{
				Key:    scope(r) + ":" + key,
				Method: r.Method,
				Route:  r.URL.Path,
			}
			err := repo.Reserve(ctx, record)
			if errors.Is(err, idempotency.ErrKeyExists) {
				if replayIdempotent(w, r, repo, record) && metrics != nil {
					metrics.IncIdempotentReplay(record.Route)
				}
				return
			}
			if err != nil {
				slog.ErrorContext(ctx, "failed to reserve idempotency key", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Store even if the client has gone away.
			storeCtx := context.WithoutCancel(ctx)
			if capture.statusCode < 200 || capture.statusCode >= 300 {
				if err := repo.Release(storeCtx, record.Key); err != nil {
					slog.ErrorContext(ctx, "failed to release idempotency key", "error", err)
				}
				return
			}

			record.ResponseBody = capture.body.String()
			record.ResponseHash = idempotency.ComputeResponseHash(record.ResponseBody)
			record.ResponseStatusCode = capture.statusCode
			if err := repo.Complete(storeCtx, record); err != nil {
				slog.ErrorContext(ctx, "failed to store idempotency response", "error", err)
				return
			}
			slog.DebugContext(ctx, "stored idempotency response", "route", record.Route, "status", record.ResponseStatusCode)
		})
	}
}

// replayIdempotent answers a repeated key from the stored record and reports
// whether the stored response was sent.
func replayIdempotent(w http.ResponseWriter, r *http.Request, repo idempotency.Repository, want *idempotency.Record) bool {
	ctx := r.Context()
	existing, err := repo.Get(ctx, want.Key)
	if err != nil {
		// Released between Reserve and Get: the first attempt failed.
		writeIdempotencyError(w, r, http.StatusConflict, "idempotency_conflict", "Request with this Idempotency-Key failed, retry it")
		return false
	}
	if !existing.Matches(want.Method, want.Route) {
		writeIdempotencyError(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused",
			"Idempotency-Key was already used for a different request")
		return false
	}
	if existing.Status != idempotency.StatusCompleted {
		writeIdempotencyError(w, r, http.StatusConflict, "idempotency_conflict", "A request with this Idempotency-Key is in progress")
		return false
	}

	slog.InfoContext(ctx, "idempotency key found, returning cached response",
		"route", existing.Route,
		"status", existing.ResponseStatusCode,
	)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(IdempotentReplayedHeader, "true")
	w.WriteHeader(existing.ResponseStatusCode)
	_, _ = w.Write([]byte(existing.ResponseBody))
	return true
}
