// Package middleware holds the HTTP middleware of the tour API: request ids,
// tracing, request logging, metrics, CORS, rate limiting and idempotent
// replays.
package middleware

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

type sessionIDKey struct{}

type errorCodeKey struct{}

type requestFieldsKey struct{}

// requestFields collects values set by handlers further down the chain, so
// they reach the log entry even when the handler never replaces *r.
type requestFields struct {
	mu        sync.Mutex
	sessionID string
	errorCode string
}

func fieldsFrom(ctx context.Context) *requestFields {
	f, _ := ctx.Value(requestFieldsKey{}).(*requestFields)
	return f
}

// SetSessionID records the tour session bound to the request: on the
// request log entry, on the trace span and in the returned context.
func SetSessionID(ctx context.Context, id string) context.Context {
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		f.sessionID = id
		f.mu.Unlock()
	}
	tagSession(ctx, id)
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// GetSessionID returns the session recorded by SetSessionID, or "".
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.sessionID
	}
	return ""
}

// SetErrorCode records the API error code of a failed request for the
// request log entry.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		f.errorCode = code
		f.mu.Unlock()
	}
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode returns the code recorded by SetErrorCode, or "".
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	if f := fieldsFrom(ctx); f != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.errorCode
	}
	return ""
}

// statusRecorder captures the status and body size of a response. It passes
// Hijack through so the render stream can upgrade behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader records the first status only, as net/http does.
func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Hijack hands the connection to a websocket upgrader. A hijacked request is
// recorded as 101 since the upgrader answers on the raw connection.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, buf, err := hijack(rw.ResponseWriter)
	if err == nil && !rw.wroteHeader {
		rw.status = http.StatusSwitchingProtocols
		rw.wroteHeader = true
	}
	return conn, buf, err
}

func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", w)
	}
	return h.Hijack()
}

// NewLogger returns the process logger: JSON at info level in production,
// text at debug level elsewhere.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logging writes one entry per request with method, path, status, latency,
// size and, when known, the request, trace and session ids. Failed requests
// also carry their error code and are logged at warn (4xx) or error (5xx).
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusRecorder(w)
			r = r.WithContext(context.WithValue(r.Context(), requestFieldsKey{}, &requestFields{}))

			next.ServeHTTP(rw, r)

			ctx := r.Context()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int64("size", rw.size),
			}
			for _, opt := range []struct{ key, value string }{
				{"request_id", GetRequestID(ctx)},
				{"trace_id", TraceID(ctx)},
				{"session_id", GetSessionID(ctx)},
			} {
				if opt.value != "" {
					attrs = append(attrs, slog.String(opt.key, opt.value))
				}
			}

			level := slog.LevelInfo
			switch {
			case rw.status >= 500:
				level = slog.LevelError
			case rw.status >= 400:
				level = slog.LevelWarn
			}
			if level != slog.LevelInfo {
				if code := GetErrorCode(ctx); code != "" {
					attrs = append(attrs, slog.String("error_code", code))
				}
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}
