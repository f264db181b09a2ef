package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for inbound event metrics
	eventProcessingLabels = []string{"event_type", "tenant_id", "consumer_type"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "tenant_id", "consumer_type", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waspread_events_received_total",
			Help: "Total number of inbound events received from NATS, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waspread_events_processed_total",
			Help: "Total number of inbound events successfully processed and acknowledged.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waspread_events_failed_total",
			Help: "Total number of inbound events that failed processing (resulting in Nak or Term).",
		},
		eventProcessingLabels,
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waspread_event_processing_duration_seconds",
			Help:    "Histogram of inbound event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waspread_event_routing_duration_seconds",
			Help:    "Histogram of time spent in router.Route.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventProcessingLabels,
	)

	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waspread_event_processing_actions_total",
			Help: "Total count of ack decisions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Work queue metrics
var (
	queueLabels        = []string{"queue"}
	queueTenantLabels  = []string{"queue", "tenant_id"}
	queueOutcomeLabels = []string{"queue", "tenant_id", "outcome"}

	queueFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_queue_fetch_errors_total",
		Help: "Total number of errors encountered while fetching jobs.",
	}, queueLabels)
	queueWorkersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waspread_queue_workers_active",
		Help: "Current number of running job handlers in the worker pool.",
	}, queueLabels)
	queueJobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_queue_jobs_enqueued_total",
		Help: "Total number of jobs enqueued, including retries.",
	}, queueTenantLabels)
	queueJobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_queue_jobs_processed_total",
		Help: "Total number of job attempts, labeled by outcome (done, retry, dropped, exhausted).",
	}, queueOutcomeLabels)
	queueJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waspread_queue_job_duration_seconds",
		Help:    "Histogram of job handler durations.",
		Buckets: prometheus.DefBuckets,
	}, queueTenantLabels)
	queueAckFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_queue_ack_failures_total",
		Help: "Total number of failed Ack, Nak or Term calls.",
	}, queueLabels)
)

// Domain metrics
var (
	sendOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_send_outcomes_total",
		Help: "Total number of settled outbound messages per pipeline and final status.",
	}, []string{"pipeline", "tenant_id", "status"})
	autoReplyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_auto_reply_decisions_total",
		Help: "Total number of auto-reply decisions, labeled by decision (queued or a skip reason).",
	}, []string{"tenant_id", "decision"})
	funnelTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_funnel_transitions_total",
		Help: "Total number of committed funnel stage transitions.",
	}, []string{"tenant_id", "from", "to"})
	schedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_scheduler_runs_total",
		Help: "Total number of scheduled task ticks, labeled by result (ran, skipped, failed).",
	}, []string{"task", "result"})
	cacheChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_cache_checks_total",
		Help: "Total number of in-memory filter lookups, labeled by cache and result.",
	}, []string{"tenant_id", "cache", "result"})
	schedulerRunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waspread_scheduler_run_duration_seconds",
		Help:    "Histogram of scheduled task run durations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"task"})
)

// Load generator metrics, only registered values when cmd/tester runs
var (
	loadgenLabels = []string{"subject", "tenant_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_loadgen_messages_attempted_total",
		Help: "Total number of gateway events the load generator tried to publish.",
	}, loadgenLabels)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_loadgen_messages_published_total",
		Help: "Total number of gateway events the load generator published.",
	}, loadgenLabels)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waspread_loadgen_publish_errors_total",
		Help: "Total number of load generator publish failures.",
	}, loadgenLabels)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "tenant_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waspread_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics turns metric collection on or off.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// --- Queue Metric Helpers ---

func IncQueueFetchError(queue string) {
	if metricsEnabled {
		queueFetchErrorsTotal.WithLabelValues(queue).Inc()
	}
}

func SetQueueWorkersActive(queue string, count int) {
	if metricsEnabled {
		queueWorkersActive.WithLabelValues(queue).Set(float64(count))
	}
}

func IncJobsEnqueued(queue, tenant string) {
	if metricsEnabled {
		queueJobsEnqueuedTotal.WithLabelValues(queue, sanitizeTenant(tenant)).Inc()
	}
}

// IncJobsProcessed counts one handled attempt; outcome is done, retry, dropped or exhausted.
func IncJobsProcessed(queue, tenant, outcome string) {
	if metricsEnabled {
		queueJobsProcessedTotal.WithLabelValues(queue, sanitizeTenant(tenant), outcome).Inc()
	}
}

func ObserveJobDuration(queue, tenant string, duration time.Duration) {
	if metricsEnabled {
		queueJobDurationSeconds.WithLabelValues(queue, sanitizeTenant(tenant)).Observe(duration.Seconds())
	}
}

func IncQueueAckFailure(queue string) {
	if metricsEnabled {
		queueAckFailuresTotal.WithLabelValues(queue).Inc()
	}
}

// --- Domain Metric Helpers ---

// IncSendOutcome counts a message that reached a final status in a pipeline
// (campaign, followup, contact_followup, auto_reply).
func IncSendOutcome(pipeline, tenant, status string) {
	if metricsEnabled {
		sendOutcomesTotal.WithLabelValues(pipeline, sanitizeTenant(tenant), status).Inc()
	}
}

func IncAutoReplyDecision(tenant, decision string) {
	if metricsEnabled {
		autoReplyDecisionsTotal.WithLabelValues(sanitizeTenant(tenant), decision).Inc()
	}
}

func IncFunnelTransition(tenant, from, to string) {
	if metricsEnabled {
		funnelTransitionsTotal.WithLabelValues(sanitizeTenant(tenant), from, to).Inc()
	}
}

// IncCacheCheck counts a lookup in a per-tenant filter cache.
func IncCacheCheck(tenant, cache, result string) {
	if metricsEnabled {
		cacheChecksTotal.WithLabelValues(sanitizeTenant(tenant), cache, result).Inc()
	}
}

// IncSchedulerRun counts one tick of a scheduled task; result is ran, skipped or failed.
func IncSchedulerRun(task, result string) {
	if metricsEnabled {
		schedulerRunsTotal.WithLabelValues(task, result).Inc()
	}
}

func ObserveSchedulerRunDuration(task string, duration time.Duration) {
	if metricsEnabled {
		schedulerRunDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
	}
}

// --- Load Generator Metric Helpers ---

func IncLoadgenMessagesAttempted(subject, tenant string) {
	if metricsEnabled {
		loadgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeTenant(tenant)).Inc()
	}
}

func IncLoadgenMessagesPublished(subject, tenant string) {
	if metricsEnabled {
		loadgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeTenant(tenant)).Inc()
	}
}

func IncLoadgenPublishErrors(subject, tenant string) {
	if metricsEnabled {
		loadgenPublishErrorsTotal.WithLabelValues(subject, sanitizeTenant(tenant)).Inc()
	}
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, tenantID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(tenantID), status).Observe(duration.Seconds())
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
