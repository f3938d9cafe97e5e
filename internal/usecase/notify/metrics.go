package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for integration dispatch monitoring
var (
	// integrationDispatchedTotal tracks dispatch attempts per integration type
	integrationDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_dispatched_total",
			Help: "Total number of integration dispatch attempts",
		},
		[]string{"integration_type", "event_type"},
	)

	// integrationSentTotal tracks dispatch results per integration type
	integrationSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_sent_total",
			Help: "Total number of integration dispatches by outcome",
		},
		[]string{"integration_type", "status"}, // status: success|failure
	)

	// integrationDuration tracks provider send duration
	integrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_dispatch_duration_seconds",
			Help:    "Integration dispatch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10}, // 100ms to the 10s provider timeout
		},
		[]string{"integration_type"},
	)

	// connectionTestsTotal tracks connection test outcomes
	connectionTestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_connection_tests_total",
			Help: "Total number of integration connection tests by outcome",
		},
		[]string{"integration_type", "status"},
	)

	// tokenRefreshesTotal tracks OAuth credentials written back after a refresh
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_token_refreshes_persisted_total",
			Help: "Total number of refreshed OAuth credentials persisted",
		},
		[]string{"integration_type"},
	)

	// auditWriteFailuresTotal tracks swallowed audit log failures
	auditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "integration_audit_write_failures_total",
			Help: "Total number of audit log rows that could not be written",
		},
	)

	// circuitBreakerOpenTotal tracks circuit breaker open events
	circuitBreakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_circuit_breaker_open_total",
			Help: "Total number of circuit breaker open events",
		},
		[]string{"integration_type"},
	)

	// eventsDroppedTotal tracks events or dispatches that never reached a provider
	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_events_dropped_total",
			Help: "Total number of dropped events or dispatches",
		},
		[]string{"integration_type", "reason"}, // reason: invalid|shutdown|circuit_open|rate_limited
	)

	// eventMatches tracks how many integrations matched each event
	eventMatches = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_event_matches",
			Help:    "Number of subscribed integrations matched per event",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		},
		[]string{"event_type"},
	)

	// activeDispatches tracks currently running integration dispatches
	activeDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "integration_active_dispatches",
			Help: "Number of integration dispatches in flight",
		},
	)
)

// RecordDispatch records a dispatch attempt to one integration.
func RecordDispatch(integrationType, eventType string) {
	integrationDispatchedTotal.WithLabelValues(integrationType, eventType).Inc()
}

// RecordSuccess records a successful send and its duration.
func RecordSuccess(integrationType string, duration time.Duration) {
	integrationSentTotal.WithLabelValues(integrationType, "success").Inc()
	integrationDuration.WithLabelValues(integrationType).Observe(duration.Seconds())
}

// RecordFailure records a failed send and its duration.
func RecordFailure(integrationType string, duration time.Duration) {
	integrationSentTotal.WithLabelValues(integrationType, "failure").Inc()
	integrationDuration.WithLabelValues(integrationType).Observe(duration.Seconds())
}

// RecordConnectionTest records the outcome of a connection test.
func RecordConnectionTest(integrationType string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	connectionTestsTotal.WithLabelValues(integrationType, status).Inc()
}

// RecordTokenRefresh records refreshed credentials written back to the store.
func RecordTokenRefresh(integrationType string) {
	tokenRefreshesTotal.WithLabelValues(integrationType).Inc()
}

// RecordAuditWriteFailure records an audit row that was dropped.
func RecordAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}

// RecordCircuitBreakerOpen records a circuit breaker open event.
func RecordCircuitBreakerOpen(integrationType string) {
	circuitBreakerOpenTotal.WithLabelValues(integrationType).Inc()
}

// RecordDropped records an event or dispatch that was dropped.
// integrationType is "all" when the whole event was dropped.
func RecordDropped(integrationType, reason string) {
	eventsDroppedTotal.WithLabelValues(integrationType, reason).Inc()
}

// RecordMatches records how many integrations an event fanned out to.
func RecordMatches(eventType string, count int) {
	eventMatches.WithLabelValues(eventType).Observe(float64(count))
}

// IncrementActiveDispatches increments the in-flight gauge by 1.
func IncrementActiveDispatches() {
	activeDispatches.Inc()
}

// DecrementActiveDispatches decrements the in-flight gauge by 1.
func DecrementActiveDispatches() {
	activeDispatches.Dec()
}
