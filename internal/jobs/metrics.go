// Package jobs runs the API's periodic maintenance tasks and records their
// outcome as Prometheus metrics.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
	MetricBackgroundJobItemsTotal  = "background_job_items_total"
)

// Job types, used as the job_type label.
const (
	JobTypeSessionSweep       = "session_sweep"       // expired tour sessions
	JobTypeRateLimitCleanup   = "ratelimit_cleanup"   // ended in-memory windows
	JobTypeIdempotencyCleanup = "idempotency_cleanup" // expired creation replays
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics records background job runs.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	jobItems     *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors; see Register.
func NewMetrics() *Metrics {
	byType := []string{"job_type"}
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobsTotal,
			Help: "Background job runs by type and status",
		}, []string{"job_type", "status"}),
		jobsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBackgroundJobsDuration,
			Help:    "Background job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 5, 7),
		}, byType),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobErrorsTotal,
			Help: "Failed background job runs by type and cause (error, timeout, canceled)",
		}, []string{"job_type", "error_type"}),
		jobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBackgroundJobItemsTotal,
			Help: "Sessions, rate limit windows and idempotency keys removed by background jobs",
		}, byType),
	}
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors, m.jobItems}
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

// observe records one run. Items removed before a failure still count.
func (m *Metrics) observe(jobType string, elapsed time.Duration, removed int, err error) {
	m.jobsDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	if removed > 0 {
		m.jobItems.WithLabelValues(jobType).Add(float64(removed))
	}
	if err != nil {
		m.jobsTotal.WithLabelValues(jobType, StatusFailure).Inc()
		m.jobErrors.WithLabelValues(jobType, errorType(err)).Inc()
		return
	}
	m.jobsTotal.WithLabelValues(jobType, StatusSuccess).Inc()
}
