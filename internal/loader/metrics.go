package loader

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricSceneLoads is the scene load counter name.
const MetricSceneLoads = "tour_scene_loads_total"

// Metrics contains Prometheus metrics for scene loads.
type Metrics struct {
	loads *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSceneLoads,
			Help: "Total number of scene loads by outcome (requested, default, fallback, placeholder, stale)",
		}, []string{"outcome"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.loads)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.loads}
}

func (m *Metrics) observe(outcome Outcome) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(string(outcome)).Inc()
}
