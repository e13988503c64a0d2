package persist

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricStoreWrites is the store write counter name.
const MetricStoreWrites = "tour_store_writes_total"

// Metrics contains Prometheus metrics for store writes.
type Metrics struct {
	writes *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStoreWrites,
			Help: "Total number of document store writes by operation and result",
		}, []string{"op", "result"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.writes)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.writes}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
}
