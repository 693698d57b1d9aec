package mutation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCommitted  = "committed"
	outcomeRolledBack = "rolled_back"
	outcomeRejected   = "rejected"
)

// Metrics counts optimistic writes by kind and outcome.
type Metrics struct {
	mutations *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "mutations_total",
			Help:      "Task writes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskboard",
			Name:      "mutation_duration_seconds",
			Help:      "Time spent waiting for the task store to accept a write.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.duration)
	}
	return m
}

func (m *Metrics) observe(kind Kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), outcome).Inc()
	if outcome != outcomeRejected {
		m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}
