package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"integration-hub/internal/handler/http/respond"
	"integration-hub/internal/usecase/notify"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BreakerHealthResponse lists the state of every provider circuit breaker.
type BreakerHealthResponse struct {
	Healthy  bool              `json:"healthy"`
	Breakers map[string]string `json:"breakers"`
}

// startMetricsServer serves the internal scrape port, kept off the public
// listener:
//   - GET /metrics: Prometheus exposition
//   - GET /health/breakers: provider circuit breaker states
//
// The server stops within 5 seconds of ctx being cancelled.
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, dispatcher *notify.Dispatcher) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health/breakers", breakerHealthHandler(dispatcher.BreakerStates))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}()

	return server
}

// breakerHealthHandler answers 503 while any breaker is not closed.
func breakerHealthHandler(states func() map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := BreakerHealthResponse{Healthy: true, Breakers: states()}
		for _, state := range resp.Breakers {
			if state != "closed" {
				resp.Healthy = false
			}
		}
		code := http.StatusOK
		if !resp.Healthy {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(w, code, resp)
	}
}
