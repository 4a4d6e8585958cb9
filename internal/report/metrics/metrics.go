package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for report pipeline runs. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Pipeline runs by kind, operation and outcome
	Runs *prometheus.CounterVec

	// Stage latencies by kind and stage
	StageLatency *prometheus.HistogramVec

	// Rendered document sizes
	DocumentBytes *prometheus.HistogramVec

	// Expert report batch item outcomes
	BatchItems *prometheus.CounterVec
}

// New registers the report metrics with the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the report metrics with reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stpericial_report_runs_total",
			Help: "Report pipeline runs by kind, operation and outcome",
		}, []string{"kind", "operation", "outcome"}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stpericial_report_stage_duration_seconds",
			Help:    "Duration of report pipeline stages",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind", "stage"}), // stage: aggregate, draft, render, sign, deliver

		DocumentBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stpericial_report_document_bytes",
			Help:    "Size of rendered PDF documents",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		}, []string{"kind"}),

		BatchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stpericial_report_batch_items_total",
			Help: "Expert report batch items by outcome",
		}, []string{"outcome"}), // outcome: generated, failed, skipped
	}
}

// IncRun records a finished pipeline run
func (m *Metrics) IncRun(kind, operation, outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(kind, operation, outcome).Inc()
	}
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(kind, stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(kind, stage).Observe(d.Seconds())
	}
}

// ObserveDocument records the size of a rendered document
func (m *Metrics) ObserveDocument(kind string, size int) {
	if m != nil {
		m.DocumentBytes.WithLabelValues(kind).Observe(float64(size))
	}
}

// AddBatchItems records batch item outcomes
func (m *Metrics) AddBatchItems(outcome string, n int) {
	if m != nil && n > 0 {
		m.BatchItems.WithLabelValues(outcome).Add(float64(n))
	}
}
