package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report engine activity.
type Metrics struct {
	runs           *prometheus.CounterVec
	classification *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	logFailures    prometheus.Counter
	runsActive     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus
// registry. The collectors are created once so several engines can share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors already registered under the same name are reused; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_agent",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Completed workflow runs by outcome.",
		},
		[]string{"outcome"},
	)
	classification := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workflow_agent",
			Subsystem: "engine",
			Name:      "classification_duration_seconds",
			Help:      "Time spent waiting for intent classification.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"result"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_agent",
			Subsystem: "engine",
			Name:      "stage_failures_total",
			Help:      "Stage executions that failed.",
		},
		[]string{"stage", "reason"},
	)
	logFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "workflow_agent",
			Subsystem: "engine",
			Name:      "log_write_failures_total",
			Help:      "Runs whose execution log record could not be written.",
		},
	)
	runsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workflow_agent",
			Subsystem: "engine",
			Name:      "runs_active",
			Help:      "Runs currently in progress.",
		},
	)

	collectors := []prometheus.Collector{runs, classification, stageFailures, logFailures, runsActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case runs:
				runs = already.ExistingCollector.(*prometheus.CounterVec)
			case classification:
				classification = already.ExistingCollector.(*prometheus.HistogramVec)
			case stageFailures:
				stageFailures = already.ExistingCollector.(*prometheus.CounterVec)
			case logFailures:
				logFailures = already.ExistingCollector.(prometheus.Counter)
			case runsActive:
				runsActive = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}

	return &Metrics{
		runs:           runs,
		classification: classification,
		stageFailures:  stageFailures,
		logFailures:    logFailures,
		runsActive:     runsActive,
	}
}

// ObserveClassification records classification latency with its result label.
func (m *Metrics) ObserveClassification(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.classification.WithLabelValues(result).Observe(d.Seconds())
}

// IncRun counts a completed run.
func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// IncStageFailure increments the failure counter for the given stage and reason.
func (m *Metrics) IncStageFailure(stage Stage, reason string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(string(stage), reason).Inc()
}

// IncLogFailure counts a failed execution log write.
func (m *Metrics) IncLogFailure() {
	if m == nil {
		return
	}
	m.logFailures.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}
