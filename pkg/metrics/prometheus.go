// Package metrics provides Prometheus metrics for the roastboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the roastboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Submission intake
	submissionsCreated   *prometheus.CounterVec
	validationRejections prometheus.Counter
	objectsStored        prometheus.Counter
	objectBytesStored    prometheus.Counter
	uploadRejections     *prometheus.CounterVec

	// Scoring pipeline
	pipelineOutcomes  *prometheus.CounterVec
	stageLatency      *prometheus.HistogramVec
	retryAttempts     *prometheus.CounterVec
	scoreDistribution prometheus.Histogram
	prizeEligible     prometheus.Counter
	cleanupFailures   prometheus.Counter

	// Leaderboard
	leaderboardRequests  prometheus.Counter
	leaderboardCacheHits prometheus.Counter
	leaderboardSize      *prometheus.GaugeVec

	// Store
	recordsByStatus *prometheus.GaugeVec
	recordsPruned   prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Queue / worker metrics
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejections *prometheus.CounterVec
	workerCount     prometheus.Gauge
	workerErrors    prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "roastboard",
		subsystem:        "booth",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.submissionsCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_created_total",
		Help:      "Total number of submissions created, by audio format",
	}, []string{"format"})

	m.validationRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_rejections_total",
		Help:      "Total number of submissions rejected by validation",
	})

	m.objectsStored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "audio_objects_stored_total",
		Help:      "Total number of audio objects uploaded",
	})

	m.objectBytesStored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "audio_bytes_stored_total",
		Help:      "Total number of audio bytes uploaded",
	})

	m.uploadRejections = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "upload_rejections_total",
		Help:      "Total number of rejected uploads, by reason",
	}, []string{"reason"})

	m.pipelineOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pipeline_outcomes_total",
		Help:      "Scoring pipeline runs by outcome",
	}, []string{"outcome"})

	m.stageLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pipeline_stage_latency_milliseconds",
		Help:      "Latency of each scoring pipeline stage in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})

	m.retryAttempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "capability_retries_total",
		Help:      "Retries of external capability calls, by stage",
	}, []string{"stage"})

	m.scoreDistribution = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "score",
		Help:      "Distribution of persisted scores",
		Buckets:   prometheus.LinearBuckets(10, 10, 10),
	})

	m.prizeEligible = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "prize_eligible_total",
		Help:      "Total number of prize eligible submissions",
	})

	m.cleanupFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "failure_mark_errors_total",
		Help:      "Failed attempts to mark a submission as failed",
	})

	m.leaderboardRequests = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_requests_total",
		Help:      "Total number of leaderboard aggregations requested",
	})

	m.leaderboardCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_cache_hits_total",
		Help:      "Leaderboard requests served from the freshness cache",
	})

	m.leaderboardSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_participants",
		Help:      "Completed participants on the last computed leaderboard, by session date",
	}, []string{"session_date"})

	m.recordsByStatus = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_records",
		Help:      "Stored submissions by lifecycle status",
	}, []string{"status"})

	m.recordsPruned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_records_pruned_total",
		Help:      "Submissions removed after their retention window",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_errors_total",
		Help:      "HTTP error responses by endpoint, method and error type",
	}, []string{"endpoint", "method", "error_type"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of queued scoring jobs",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum number of queued scoring jobs",
	})

	m.queueRejections = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_rejections_total",
		Help:      "Scoring jobs not enqueued, by reason",
	}, []string{"reason"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of background scoring workers",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Background scoring jobs that ended in an error",
	})
}

// RecordSubmissionCreated increments the created counter for a format.
func RecordSubmissionCreated(format string) {
	globalManager.submissionsCreated.WithLabelValues(format).Inc()
}

// RecordValidationRejection increments the validation rejection counter.
func RecordValidationRejection() {
	globalManager.validationRejections.Inc()
}

// RecordObjectStored records a stored audio object and its size.
func RecordObjectStored(size int64) {
	globalManager.objectsStored.Inc()
	globalManager.objectBytesStored.Add(float64(size))
}

// RecordUploadRejection records a rejected upload.
func RecordUploadRejection(reason string) {
	globalManager.uploadRejections.WithLabelValues(reason).Inc()
}

// RecordPipelineOutcome records the outcome of one pipeline run.
func RecordPipelineOutcome(outcome string) {
	globalManager.pipelineOutcomes.WithLabelValues(outcome).Inc()
}

// RecordStageLatency records the latency of a pipeline stage.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordRetry records one retry of an external capability call.
func RecordRetry(stage string) {
	globalManager.retryAttempts.WithLabelValues(stage).Inc()
}

// RecordScore records a persisted score.
func RecordScore(score int, prizeEligible bool) {
	globalManager.scoreDistribution.Observe(float64(score))
	if prizeEligible {
		globalManager.prizeEligible.Inc()
	}
}

// RecordCleanupFailure records a failed attempt to mark a submission failed.
func RecordCleanupFailure() {
	globalManager.cleanupFailures.Inc()
}

// RecordLeaderboardRequest records a leaderboard aggregation request.
func RecordLeaderboardRequest(cacheHit bool) {
	globalManager.leaderboardRequests.Inc()
	if cacheHit {
		globalManager.leaderboardCacheHits.Inc()
	}
}

// UpdateLeaderboardSize sets the participant count for a session date.
func UpdateLeaderboardSize(sessionDate string, participants int) {
	globalManager.leaderboardSize.WithLabelValues(sessionDate).Set(float64(participants))
}

// UpdateRecordsByStatus sets the stored record count for a status.
func UpdateRecordsByStatus(status string, count int) {
	globalManager.recordsByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordRecordsPruned adds pruned records.
func RecordRecordsPruned(count int) {
	globalManager.recordsPruned.Add(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejection records a job that could not be enqueued.
func RecordQueueRejection(reason string) {
	globalManager.queueRejections.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
