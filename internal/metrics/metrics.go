// Package metrics exposes Prometheus collectors for the mirror service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncPagesTotal             *prometheus.CounterVec
	workflowStepsTotal         *prometheus.CounterVec
	workflowStepRetriesTotal   *prometheus.CounterVec
	workflowStepDuration       *prometheus.HistogramVec
	crossReferencesWritten     prometheus.Counter
	indexDays                  prometheus.Gauge
	notifyPagesTotal           prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sourceRateLimitDelay       prometheus.Histogram
	activeBatches              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_sync_pages_total",
				Help: "Pages handled by the sync batch executor, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		workflowStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_workflow_steps_total",
				Help: "Workflow steps finished, labeled by workflow and result.",
			},
			[]string{"workflow", "result"},
		)

		workflowStepRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_workflow_step_retries_total",
				Help: "Workflow step re-executions after a failed attempt.",
			},
			[]string{"workflow"},
		)

		workflowStepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_workflow_step_duration_seconds",
				Help:    "Histogram of executed workflow step durations.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
			},
			[]string{"workflow"},
		)

		crossReferencesWritten = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_temporal_cross_references_written_total",
				Help: "Temporal cross references inserted by the extractor.",
			},
		)

		indexDays = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_on_this_day_index_days",
				Help: "Number of day keys present in the last aggregated index.",
			},
		)

		notifyPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_notify_pages_total",
				Help: "Unclassified pages included in operator digests.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		sourceRateLimitDelay = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirror_source_rate_limit_delay_seconds",
				Help:    "Histogram of waits imposed by the source rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeBatches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_active_batches",
				Help: "Number of sync batch instances currently executing.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSyncPage counts one page outcome: synced, skipped or missing.
func ObserveSyncPage(outcome string) {
	Init()
	syncPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStep records an executed step.
func ObserveStep(workflow string, err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	workflowStepsTotal.WithLabelValues(workflow, result).Inc()
	workflowStepDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ObserveStepRetry counts a step re-execution.
func ObserveStepRetry(workflow string) {
	Init()
	workflowStepRetriesTotal.WithLabelValues(workflow).Inc()
}

// AddCrossReferences counts inserted cross references.
func AddCrossReferences(n int) {
	Init()
	crossReferencesWritten.Add(float64(n))
}

// SetIndexDays records the size of the latest index.
func SetIndexDays(n int) {
	Init()
	indexDays.Set(float64(n))
}

// AddNotifiedPages counts pages sent to operators.
func AddNotifiedPages(n int) {
	Init()
	notifyPagesTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	sourceRateLimitDelay.Observe(duration.Seconds())
}

// IncActiveBatches increments the active batches gauge.
func IncActiveBatches() {
	Init()
	activeBatches.Inc()
}

// DecActiveBatches decrements the active batches gauge.
func DecActiveBatches() {
	Init()
	activeBatches.Dec()
}
