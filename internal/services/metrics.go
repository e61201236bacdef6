package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics for the workflow engine.
type Metrics struct {
	ExecutionsStarted   *prometheus.CounterVec
	ExecutionsFinished  *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	BlockRuns           *prometheus.CounterVec
	ActiveExecutions    prometheus.Gauge
	StreamSubscribers   prometheus.Gauge
	ResumeClaims        *prometheus.CounterVec
}

// InitMetrics registers the engine metrics with the default registry.
func InitMetrics() *Metrics {
	metrics := &Metrics{
		ExecutionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowhub_executions_started_total",
			Help: "Total workflow executions started, by mode",
		}, []string{"mode"}), // "sync" or "stream"

		ExecutionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowhub_executions_finished_total",
			Help: "Total workflow executions reaching a terminal or waiting state, by status",
		}, []string{"status"}),

		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowhub_execution_duration_seconds",
			Help:    "Wall time of one interpreter pass in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		BlockRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowhub_block_runs_total",
			Help: "Total block runs, by block type and status",
		}, []string{"type", "status"}),

		ActiveExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flowhub_executions_active",
			Help: "Interpreter passes currently in flight on this instance",
		}),

		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flowhub_stream_subscribers_active",
			Help: "Active progress stream subscribers",
		}),

		ResumeClaims: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowhub_resume_claims_total",
			Help: "continueExecution claim outcomes",
		}, []string{"outcome"}), // "won", "not_waiting", "not_found"
	}

	return metrics
}

// RecordExecutionStarted counts a new execution.
// Callers track ActiveExecutions separately so the gauge pairs with the
// actual interpreter pass, not the counter.
func (m *Metrics) RecordExecutionStarted(mode string) {
	m.ExecutionsStarted.WithLabelValues(mode).Inc()
}

// RecordExecutionFinished counts a pass ending in the given status.
func (m *Metrics) RecordExecutionFinished(status string, seconds float64) {
	m.ExecutionsFinished.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(seconds)
}

// RecordBlockRun counts one block run outcome.
func (m *Metrics) RecordBlockRun(blockType, status string) {
	m.BlockRuns.WithLabelValues(blockType, status).Inc()
}

// RecordResumeClaim counts a continueExecution claim outcome.
func (m *Metrics) RecordResumeClaim(outcome string) {
	m.ResumeClaims.WithLabelValues(outcome).Inc()
}
