package worker

import (
	"time"

	"integration-hub/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics embeds the worker configuration metrics and adds metrics
// for the recheck sweep and the event consumer.
type WorkerMetrics struct {
	*config.ConfigMetrics

	RecheckRunsTotal         *prometheus.CounterVec
	RecheckDurationSeconds   prometheus.Histogram
	RecheckRecoveredTotal    prometheus.Counter
	RecheckLastSuccess       prometheus.Gauge
	EventsConsumedTotal      *prometheus.CounterVec
	ConsumerLastMessageStamp prometheus.Gauge
}

// NewWorkerMetrics registers the worker metrics with reg.
// Pass prometheus.DefaultRegisterer in production.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	factory := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith("worker", reg),

		RecheckRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_recheck_runs_total",
			Help: "Total number of recheck sweeps by status (success/failure)",
		}, []string{"status"}),

		RecheckDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_recheck_duration_seconds",
			Help:    "Duration of recheck sweeps in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 600},
		}),

		RecheckRecoveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_recheck_recovered_total",
			Help: "Total number of integrations restored to connected by a recheck",
		}),

		RecheckLastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "worker_recheck_last_success_timestamp",
			Help: "Unix timestamp of the last successful recheck sweep",
		}),

		EventsConsumedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_events_consumed_total",
			Help: "Total number of consumed event messages by status (dispatched/invalid/failed)",
		}, []string{"status"}),

		ConsumerLastMessageStamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "worker_consumer_last_message_timestamp",
			Help: "Unix timestamp of the last consumed event message",
		}),
	}
}

// RecordRecheck records one sweep. recovered is ignored on failure.
func (m *WorkerMetrics) RecordRecheck(err error, duration time.Duration, recovered int) {
	m.RecheckDurationSeconds.Observe(duration.Seconds())
	if err != nil {
		m.RecheckRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.RecheckRunsTotal.WithLabelValues("success").Inc()
	if recovered > 0 {
		m.RecheckRecoveredTotal.Add(float64(recovered))
	}
	m.RecheckLastSuccess.SetToCurrentTime()
}

// RecordEvent records one consumed message with status dispatched, invalid or failed.
func (m *WorkerMetrics) RecordEvent(status string) {
	m.EventsConsumedTotal.WithLabelValues(status).Inc()
	m.ConsumerLastMessageStamp.SetToCurrentTime()
}
