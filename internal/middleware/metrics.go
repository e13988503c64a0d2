package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
	MetricIdempotentReplays     = "http_idempotent_replays_total"
)

// sizeBuckets spans 100 B to 1 GB; panorama uploads sit at the top end.
var sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)

// Metrics holds the collectors of the HTTP middleware. It is safe for
// concurrent use.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	requestDuration      *prometheus.HistogramVec
	requestsTotal        *prometheus.CounterVec
	requestSize          *prometheus.HistogramVec
	responseSize         *prometheus.HistogramVec
	idempotentReplays    *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors; see Register.
func NewMetrics() *Metrics {
	requestLabels := []string{"method", "path", "status"}
	limitLabels := []string{"endpoint", "key_type"}
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Rate limit checks by route and key type (session or ip)",
		}, limitLabels),
		rateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected with 429 by route and key type",
		}, limitLabels),
		rateLimitRedisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Redis errors during rate limiting; each one let a request through",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, requestLabels),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests by method, route pattern and status",
		}, requestLabels),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "HTTP request body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response body size in bytes",
			Buckets: sizeBuckets,
		}, requestLabels),
		idempotentReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIdempotentReplays,
			Help: "Creation requests answered from a stored response",
		}, []string{"path"}),
	}
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.requestDuration,
		m.requestsTotal,
		m.requestSize,
		m.responseSize,
		m.idempotentReplays,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts a rate limit check.
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked counts a rejected request.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts a fail-open event.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// IncIdempotentReplay counts a replayed creation response for a route.
func (m *Metrics) IncIdempotentReplay(path string) {
	m.idempotentReplays.WithLabelValues(path).Inc()
}

// ObserveHTTPRequest records one completed request. path must already be a
// route pattern.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	m.requestDuration.With(labels).Observe(duration.Seconds())
	m.requestsTotal.With(labels).Inc()
	m.requestSize.With(labels).Observe(float64(requestSize))
	m.responseSize.With(labels).Observe(float64(responseSize))
}
