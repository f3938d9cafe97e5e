package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"integration-hub/internal/config"
	hhttp "integration-hub/internal/handler/http"
	"integration-hub/internal/handler/http/auth"
	hintegration "integration-hub/internal/handler/http/integration"
	"integration-hub/internal/handler/http/requestid"
	pgRepo "integration-hub/internal/infra/adapter/persistence/postgres"
	"integration-hub/internal/infra/db"
	"integration-hub/internal/infra/notifier"
	"integration-hub/internal/infra/secretbox"
	"integration-hub/internal/observability/logging"
	"integration-hub/internal/observability/metrics"
	"integration-hub/internal/observability/tracing"
	pkgconfig "integration-hub/internal/pkg/config"
	"integration-hub/internal/usecase/notify"
)

func main() {
	logger := initLogger()

	cfg, err := config.LoadAppConfig(logger, pkgconfig.NewConfigMetrics("api"))
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := auth.ValidateSecret(cfg.JWTSecret); err != nil {
		logger.Error("invalid service token secret", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "integration-hub-api",
		SampleRatio: 1,
	})
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database := initDatabase(logger, cfg)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	dispatcher := newDispatcher(logger, cfg, database)
	version := getVersion()

	runServer(logger, cfg, database, dispatcher, version)
}

// initLogger builds the JSON logger and installs it as the slog default.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the pool and applies the schema.
func initDatabase(logger *slog.Logger, cfg *config.AppConfig) *sql.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}
	return database
}

// newDispatcher assembles the credential cipher, the repositories and one
// provider per integration type.
func newDispatcher(logger *slog.Logger, cfg *config.AppConfig, database *sql.DB) *notify.Dispatcher {
	cipher, err := secretbox.NewFromHex(cfg.CredentialsKey)
	if err != nil {
		logger.Error("invalid credentials key", slog.Any("error", err))
		os.Exit(1)
	}

	providersCfg, err := config.LoadProvidersConfig(cfg.ProvidersConfigPath)
	if err != nil {
		logger.Error("failed to load provider configuration", slog.Any("error", err))
		os.Exit(1)
	}

	registry := notify.NewRegistry()
	for _, n := range notifier.NewAll(cfg.NotifierConfig(providersCfg)) {
		registry.Register(n)
	}
	logger.Info("providers registered", slog.Any("types", registry.Types()))

	return notify.NewDispatcher(
		pgRepo.NewIntegrationRepo(database),
		pgRepo.NewIntegrationLogRepo(database),
		cipher,
		registry,
		notify.WithMaxConcurrent(cfg.NotifyMaxConcurrent),
		notify.WithSendTimeout(cfg.NotifySendTimeout),
	)
}

func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// setupRoutes mounts the integration API next to the health and metrics endpoints.
func setupRoutes(database *sql.DB, dispatcher *notify.Dispatcher, version string) *http.ServeMux {
	mux := http.NewServeMux()
	hintegration.Register(mux, dispatcher)

	mux.Handle("GET /health", &hhttp.HealthHandler{DB: database, Version: version, Breakers: dispatcher.BreakerStates})
	mux.Handle("GET /health/live", hhttp.LiveHandler{})
	mux.Handle("GET /metrics", hhttp.MetricsHandler())
	return mux
}

// applyMiddleware wraps the mux; the first entry is the outermost. Every
// route but the health checks and /metrics needs a service token.
func applyMiddleware(logger *slog.Logger, jwtSecret []byte, handler http.Handler) http.Handler {
	return hhttp.Chain(handler,
		requestid.Middleware,
		hhttp.Recover(logger),
		tracing.Middleware,
		hhttp.Logging(logger),
		auth.Authz(jwtSecret, logger),
		hhttp.InputValidation(),
		hhttp.MetricsMiddleware,
	)
}

func runServer(logger *slog.Logger, cfg *config.AppConfig, database *sql.DB, dispatcher *notify.Dispatcher, version string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metrics.CollectDBStats(ctx, database, 15*time.Second)
	startMetricsServer(ctx, logger, cfg.MetricsPort, dispatcher)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           applyMiddleware(logger, []byte(cfg.JWTSecret), setupRoutes(database, dispatcher, version)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so no new background dispatch starts after the drain.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("in-flight dispatches cancelled", slog.Any("error", err))
	}
	cancel()
	logger.Info(fmt.Sprintf("server stopped (version %s)", version))
}
