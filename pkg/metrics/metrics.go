package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Coordinator metrics
	Actions *prometheus.CounterVec

	// Notification metrics
	Notifications     *prometheus.CounterVec
	NotificationQueue prometheus.Gauge

	// Clinic API metrics
	UpstreamLatency *prometheus.HistogramVec

	// Session metrics
	Resolutions     *prometheus.CounterVec
	StorageFallback prometheus.Gauge

	// Listing metrics
	ListQueriesSuperseded prometheus.Counter

	// Worker metrics
	EventsConsumed     *prometheus.CounterVec
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics on the given registerer.
// A nil registerer leaves the collectors unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "actions_total",
			Help:      "Lifecycle actions by outcome",
		}, []string{"action", "outcome"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "results_total",
			Help:      "Push notification dispatch results",
		}, []string{"outcome"}),
		NotificationQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "queue_size",
			Help:      "Notifications waiting for a dispatch worker",
		}),

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "clinicapi",
			Name:      "request_duration_seconds",
			Help:      "Duration of clinic API calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),

		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "identity_resolutions_total",
			Help:      "Accepted identity candidates by source",
		}, []string{"source"}),
		StorageFallback: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "storage_fallback",
			Help:      "1 when identity storage runs on the in-memory fallback",
		}),

		ListQueriesSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "queries_superseded_total",
			Help:      "List queries dropped in favour of a newer one",
		}),

		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_consumed_total",
			Help:      "Lifecycle events consumed by the audit worker",
		}, []string{"status"}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewNop returns unregistered collectors, handy in tests.
func NewNop() *Metrics {
	return NewMetrics("test", nil)
}
