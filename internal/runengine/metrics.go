package runengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks engine-level series a node-by-node view of the graph
// runtime can't see on its own: how many job handlers are running right
// now, how long each one waited for its case lock, and how many
// dead-letter entries are sitting open.
type Metrics struct {
	runsInFlight prometheus.Gauge
	lockWait     prometheus.Histogram
	dlqDepth     prometheus.Gauge
	runOutcomes  *prometheus.CounterVec
}

// NewMetrics registers the Run Engine's series against registry and
// returns the handle used to update them. Each Engine gets its own
// registry (internal/app wires it to an HTTP handler for scraping) so
// building more than one Engine in the same process, as the test suite
// does, never collides on a shared default registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "autobot",
			Subsystem: "runengine",
			Name:      "runs_in_flight",
			Help:      "Job handlers currently executing.",
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autobot",
			Subsystem: "runengine",
			Name:      "lock_wait_seconds",
			Help:      "Time between requesting a case lock and the run body starting.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		}),
		dlqDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "autobot",
			Subsystem: "runengine",
			Name:      "dead_letter_depth",
			Help:      "Open (not yet discarded) dead-letter entries.",
		}),
		runOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autobot",
			Subsystem: "runengine",
			Name:      "run_outcomes_total",
			Help:      "Run Engine job outcomes by trigger type and result.",
		}, []string{"trigger", "outcome"}),
	}
}

func (m *Metrics) beginRun() func() {
	m.runsInFlight.Inc()
	return m.runsInFlight.Dec
}

func (m *Metrics) observeLockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) recordOutcome(trigger, outcome string) {
	m.runOutcomes.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) setDLQDepth(n int) {
	m.dlqDepth.Set(float64(n))
}

func outcomeLabel(skipped bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case skipped:
		return "skipped"
	default:
		return "ok"
	}
}
