package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by type.",
		},
		[]string{"type"},
	)

	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state by type and status.",
		},
		[]string{"type", "status"},
	)

	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_claims_total",
			Help: "Total number of successful job claims by type.",
		},
		[]string{"type"},
	)

	RequeuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_requeues_total",
			Help: "Total number of failed attempts requeued for retry by type.",
		},
		[]string{"type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	DeliveryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_delivery_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidehook_delivery_latency_seconds",
			Help:    "Webhook delivery round-trip latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	DLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_dlq_total",
			Help: "Total number of terminally failed jobs published to the dead letter topic.",
		},
	)

	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_quota_rejections_total",
			Help: "Total number of admissions rejected by a hard quota.",
		},
		[]string{"tenant_id", "resource_type"},
	)

	QuotaNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_quota_notifications_total",
			Help: "Total number of quota threshold notifications emitted.",
		},
		[]string{"tenant_id", "resource_type"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidehook_queue_depth",
			Help: "Number of jobs not yet in a terminal state.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		JobsEnqueuedTotal,
		JobsFinishedTotal,
		ClaimsTotal,
		RequeuesTotal,
		DeliveriesTotal,
		DeliveryRetriesTotal,
		DeliveryLatency,
		DLQTotal,
		QuotaRejectionsTotal,
		QuotaNotificationsTotal,
		QueueDepth,
	)
}

// RecordEnqueue increments the enqueued counter for a job type
func RecordEnqueue(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// RecordClaim increments the claim counter for a job type
func RecordClaim(jobType string) {
	ClaimsTotal.WithLabelValues(jobType).Inc()
}

// RecordJobFinished increments the terminal-state counter for a job
func RecordJobFinished(jobType, status string) {
	JobsFinishedTotal.WithLabelValues(jobType, status).Inc()
}

// RecordRequeue increments the requeue counter for a job type
func RecordRequeue(jobType string) {
	RequeuesTotal.WithLabelValues(jobType).Inc()
}

// RecordDelivery records one webhook delivery attempt and its latency
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	DeliveryLatency.Observe(latency.Seconds())
}

// RecordDeliveryRetry increments the retry counter for a failure reason
func RecordDeliveryRetry(reason string) {
	DeliveryRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ increments the dead letter counter
func RecordDLQ() {
	DLQTotal.Inc()
}

// RecordQuotaRejection increments the hard-limit rejection counter
func RecordQuotaRejection(tenantID, resourceType string) {
	QuotaRejectionsTotal.WithLabelValues(tenantID, resourceType).Inc()
}

// RecordQuotaNotification increments the threshold notification counter
func RecordQuotaNotification(tenantID, resourceType string) {
	QuotaNotificationsTotal.WithLabelValues(tenantID, resourceType).Inc()
}

// UpdateQueueDepth sets the queue depth gauge
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}
