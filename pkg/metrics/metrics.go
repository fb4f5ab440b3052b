package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Admission metrics
	NotificationsEnqueued *prometheus.CounterVec
	RateLimitRejected     *prometheus.CounterVec

	// Dispatch metrics
	NotificationsDispatched *prometheus.CounterVec
	DispatchDuration        *prometheus.HistogramVec
	QueueDepth              *prometheus.GaugeVec
	RetriesScheduled        prometheus.Counter
	RetryLaneDrained        prometheus.Counter

	// Maintenance metrics
	CleanupDeleted prometheus.Counter
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		NotificationsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_enqueued_total",
			Help:      "Total number of notifications admitted to the queue",
		}, []string{"channel", "priority"}),
		RateLimitRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Total number of admissions rejected by the rate limiter",
		}, []string{"channel"}),
		NotificationsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Total number of dispatch outcomes by terminal or retry status",
		}, []string{"channel", "status"}),
		DispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a single provider dispatch",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of envelopes waiting in each channel queue",
		}, []string{"channel"}),
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of envelopes moved to the retry lane",
		}),
		RetryLaneDrained: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_lane_drained_total",
			Help:      "Total number of due envelopes re-enqueued from the retry lane",
		}),
		CleanupDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Total number of status records removed by the retention sweep",
		}),
	}
}
