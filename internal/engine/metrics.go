package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/gridplanet/internal/world"
)

// Generation outcomes recorded on the runs counter.
const (
	resultSuccess  = "success"
	resultRejected = "rejected"
	resultError    = "error"
)

// Metrics holds the Prometheus collectors the engine updates. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration prometheus.Histogram
	Tiles    *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors under namespace and registers them
// with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_runs_total",
			Help:      "Map generation attempts by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of successful map generations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Tiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tiles",
			Help:      "Stored tiles per category.",
		}, []string{"category"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Duration, m.Tiles)
	}
	return m
}

func (m *Metrics) observeRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	if result == resultSuccess {
		m.Duration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setTiles(counts map[world.Category]int) {
	if m == nil {
		return
	}
	for _, c := range world.Categories() {
		m.Tiles.WithLabelValues(c.Name()).Set(float64(counts[c]))
	}
}
