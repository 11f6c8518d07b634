package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for webhook processing.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsApplied     *prometheus.CounterVec
	EventsDuplicate   *prometheus.CounterVec
	EventsNoChange    *prometheus.CounterVec
	UnknownSubjects   *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	ProcessDurationMs *prometheus.HistogramVec
}

// New registers and returns webhook metrics collectors.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_events_received_total",
			Help: "Total number of webhook deliveries received",
		}, []string{"provider"}),
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_events_applied_total",
			Help: "Total number of webhook events applied to identity state",
		}, []string{"provider"}),
		EventsDuplicate: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_events_duplicate_total",
			Help: "Total number of duplicate webhook deliveries acknowledged without effect",
		}, []string{"provider"}),
		EventsNoChange: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_events_nochange_total",
			Help: "Total number of unrecognized event kinds acknowledged without effect",
		}, []string{"provider"}),
		UnknownSubjects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_unknown_subjects_total",
			Help: "Total number of webhooks for subjects without a local user record",
		}, []string{"provider"}),
		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idsync_webhook_auth_failures_total",
			Help: "Total number of webhook calls rejected for a bad or missing secret",
		}, []string{"provider"}),
		ProcessDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idsync_webhook_process_duration_ms",
			Help:    "Webhook processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"provider"}),
	}
}
