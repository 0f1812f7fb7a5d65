package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters and histograms to Prometheus. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	stepsInflight prometheus.Gauge
}

// NewMetrics registers the engine metrics on the given registerer
// (prometheus.DefaultRegisterer for the process-global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagflow",
			Name:      "runs_total",
			Help:      "Runs finished, by terminal status.",
		}, []string{"status"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagflow",
			Name:      "steps_total",
			Help:      "Step attempts finished, by step type and status.",
		}, []string{"step_type", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dagflow",
			Name:      "step_duration_seconds",
			Help:      "Step attempt duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"step_type", "status"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagflow",
			Name:      "step_retries_total",
			Help:      "Retries scheduled, by step type.",
		}, []string{"step_type"}),
		stepsInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dagflow",
			Name:      "steps_inflight",
			Help:      "Step attempts currently executing.",
		}),
	}
}

func (m *Metrics) recordRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordStep(stepType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(stepType, status).Inc()
	m.stepDuration.WithLabelValues(stepType, status).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(stepType string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(stepType).Inc()
}

func (m *Metrics) stepStarted() {
	if m == nil {
		return
	}
	m.stepsInflight.Inc()
}

func (m *Metrics) stepFinished() {
	if m == nil {
		return
	}
	m.stepsInflight.Dec()
}
