// Package metrics exposes the verification worker's Prometheus metrics
// (spec.md §6): per-run outcome counters, per-integration check counters,
// a failed-checks histogram, and duration histograms for whole
// orchestration runs and dispatcher job handoffs (no per-stage durations).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verification"

// Recorder owns the worker's Prometheus collectors and registry. It
// implements the local Metrics interface pkg/pipeline.Orchestrator expects,
// so the orchestrator never imports this package directly.
type Recorder struct {
	registry *prometheus.Registry

	analysisOutcomeTotal   *prometheus.CounterVec
	failedChecksCount      prometheus.Histogram
	analysisDuration       prometheus.Histogram
	workerExecutionSeconds prometheus.Histogram
	integrationCheckTotal  *prometheus.CounterVec
}

// New builds a Recorder with its own registry, plus the Go runtime and
// process collectors, mirroring CrlsMrls-dummybox's InitMetrics shape.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		analysisOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcome_total",
			Help:      "Count of completed orchestration runs by outcome (success, incomplete, failure).",
		}, []string{"outcome"}),
		failedChecksCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "failed_checks_count",
			Help:      "Number of failed stage checks recorded per completed analysis.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6},
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall-clock duration of one orchestration run.",
			Buckets:   prometheus.DefBuckets,
		}),
		workerExecutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_execution_duration_seconds",
			Help:      "Wall-clock duration of one dispatcher job handoff, including queue overhead.",
			Buckets:   prometheus.DefBuckets,
		}),
		integrationCheckTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_check_total",
			Help:      "Count of integration probe calls by integration, status, and error type.",
		}, []string{"integration", "status", "error_type"}),
	}

	r.registry.MustRegister(
		r.analysisOutcomeTotal,
		r.failedChecksCount,
		r.analysisDuration,
		r.workerExecutionSeconds,
		r.integrationCheckTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler serves the Prometheus exposition format (spec.md §6's GET /metrics).
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordAnalysisOutcome increments the outcome counter for one completed run.
func (r *Recorder) RecordAnalysisOutcome(outcome string) {
	r.analysisOutcomeTotal.WithLabelValues(outcome).Inc()
}

// RecordFailedChecks observes how many stages failed on one completed run.
func (r *Recorder) RecordFailedChecks(n int) {
	r.failedChecksCount.Observe(float64(n))
}

// RecordAnalysisDuration observes one orchestration run's wall-clock duration.
func (r *Recorder) RecordAnalysisDuration(d time.Duration) {
	r.analysisDuration.Observe(d.Seconds())
}

// RecordWorkerExecutionDuration observes one dispatcher job handoff's duration.
func (r *Recorder) RecordWorkerExecutionDuration(d time.Duration) {
	r.workerExecutionSeconds.Observe(d.Seconds())
}

// RecordIntegrationCheck increments the per-integration counter. errorType is
// empty on success.
func (r *Recorder) RecordIntegrationCheck(integration, status, errorType string) {
	r.integrationCheckTotal.WithLabelValues(integration, status, errorType).Inc()
}
