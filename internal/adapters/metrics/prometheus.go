// Package metrics implementa ports.Metrics con colectores de Prometheus
// registrados en un registry del caller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alejandrodnm/flexbid/internal/ports"
)

// Prometheus recoge duración de resoluciones, nodos de branch-and-bound y
// cotas de la descomposición lagrangiana.
type Prometheus struct {
	solves     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	nodes      prometheus.Histogram
	upper      prometheus.Gauge
	lower      prometheus.Gauge
	gap        prometheus.Gauge
	iterations prometheus.Counter
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus registra los colectores en reg. Un registry nuevo por
// proceso (o por test) evita registros duplicados.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flexbid_solves_total",
			Help: "Number of solves by strategy and final status.",
		}, []string{"strategy", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flexbid_solve_duration_seconds",
			Help:    "Wall time of each solve by strategy.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"strategy"}),
		nodes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flexbid_bnb_nodes",
			Help:    "Branch-and-bound nodes explored per solve.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		upper: f.NewGauge(prometheus.GaugeOpts{
			Name: "flexbid_lagrange_upper_bound",
			Help: "Best feasible objective of the current Lagrangian decomposition.",
		}),
		lower: f.NewGauge(prometheus.GaugeOpts{
			Name: "flexbid_lagrange_lower_bound",
			Help: "Lower bound of the last Lagrangian iteration.",
		}),
		gap: f.NewGauge(prometheus.GaugeOpts{
			Name: "flexbid_lagrange_gap_ratio",
			Help: "Relative gap between the Lagrangian bounds.",
		}),
		iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "flexbid_lagrange_iterations_total",
			Help: "Lagrangian iterations run.",
		}),
	}
}

func (m *Prometheus) ObserveSolve(strategy, status string, d time.Duration) {
	m.solves.WithLabelValues(strategy, status).Inc()
	m.duration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Prometheus) ObserveIteration(upper, lower, gap float64) {
	m.upper.Set(upper)
	m.lower.Set(lower)
	m.gap.Set(gap)
	m.iterations.Inc()
}

func (m *Prometheus) ObserveNodes(n int) {
	m.nodes.Observe(float64(n))
}
