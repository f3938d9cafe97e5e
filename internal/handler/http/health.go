// Package http holds the HTTP middleware, health and metrics endpoints
// shared by the integration API.
package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"integration-hub/internal/handler/http/respond"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`    // "healthy", "degraded" or "unhealthy"
	Timestamp string                 `json:"timestamp"` // RFC 3339
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the outcome of one health check.
type CheckStatus struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Database is the subset of *sql.DB the health check needs.
type Database interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// HealthHandler reports database reachability and, when Breakers is set,
// the state of every provider circuit breaker. An open breaker degrades
// the report but does not fail it; only the database decides 503.
type HealthHandler struct {
	DB       Database
	Version  string
	Breakers func() map[string]string
	Now      func() time.Time
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]CheckStatus),
		Version:   h.Version,
	}

	db := h.checkDatabase(ctx)
	resp.Checks["database"] = db
	if db.Status != "healthy" {
		resp.Status = db.Status
	}

	if h.Breakers != nil {
		cb := checkBreakers(h.Breakers())
		resp.Checks["circuit_breakers"] = cb
		if cb.Status == "degraded" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	respond.JSON(w, code, resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if h.DB == nil {
		return CheckStatus{Status: "unhealthy", Message: "not configured"}
	}
	if err := h.DB.PingContext(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: respond.SanitizeError(err)}
	}

	stats := h.DB.Stats()
	details := map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
	}
	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
		details["utilization_percent"] = utilization
		if utilization >= 80 {
			return CheckStatus{Status: "degraded", Message: "connection pool utilization above 80%", Details: details}
		}
	}
	return CheckStatus{Status: "healthy", Details: details}
}

func checkBreakers(states map[string]string) CheckStatus {
	details := make(map[string]interface{}, len(states))
	status := "healthy"
	for name, state := range states {
		details[name] = state
		if state != "closed" {
			status = "degraded"
		}
	}
	return CheckStatus{Status: status, Details: details}
}

// LiveHandler answers liveness checks.
type LiveHandler struct{}

func (LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
