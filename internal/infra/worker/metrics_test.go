package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWorkerMetrics_RecordRecheck(t *testing.T) {
	m := NewWorkerMetrics(prometheus.NewRegistry())

	m.RecordRecheck(nil, 2*time.Second, 3)
	m.RecordRecheck(errors.New("db down"), time.Second, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecheckRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecheckRunsTotal.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecheckRecoveredTotal))
	assert.Greater(t, testutil.ToFloat64(m.RecheckLastSuccess), 0.0)
}

func TestWorkerMetrics_RecordEvent(t *testing.T) {
	m := NewWorkerMetrics(prometheus.NewRegistry())

	m.RecordEvent("dispatched")
	m.RecordEvent("dispatched")
	m.RecordEvent("invalid")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsConsumedTotal.WithLabelValues("dispatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumedTotal.WithLabelValues("invalid")))
	assert.Greater(t, testutil.ToFloat64(m.ConsumerLastMessageStamp), 0.0)
}
