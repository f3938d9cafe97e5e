package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "integration_hub_auth_requests_total",
		Help: "Service token checks on protected endpoints by result",
	},
	[]string{"result"}, // success | failure
)

// RecordAuthRequest counts one token check.
func RecordAuthRequest(result string) {
	authRequestsTotal.WithLabelValues(result).Inc()
}
