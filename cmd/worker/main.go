package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"integration-hub/internal/config"
	"integration-hub/internal/handler/http/respond"
	pgRepo "integration-hub/internal/infra/adapter/persistence/postgres"
	"integration-hub/internal/infra/db"
	"integration-hub/internal/infra/eventbus"
	"integration-hub/internal/infra/notifier"
	"integration-hub/internal/infra/secretbox"
	workerPkg "integration-hub/internal/infra/worker"
	"integration-hub/internal/observability/logging"
	"integration-hub/internal/observability/metrics"
	"integration-hub/internal/observability/tracing"
	"integration-hub/internal/usecase/notify"
)

// waitForMigrations blocks until the API process has created the schema.
func waitForMigrations(logger *slog.Logger, database *sql.DB) {
	const readyQuery = "SELECT 1 FROM integrations LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(readyQuery); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := initLogger()

	workerMetrics := workerPkg.NewWorkerMetrics(prometheus.DefaultRegisterer)
	appCfg, err := config.LoadAppConfig(logger, workerMetrics.ConfigMetrics)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("recheck_schedule", workerConfig.RecheckSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("recheck_timeout", workerConfig.RecheckTimeout),
		slog.Int("health_port", workerConfig.HealthPort),
		slog.Bool("consumer_enabled", workerConfig.ConsumerEnabled()))

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "integration-hub-worker",
		SampleRatio: 1,
	})
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database := initDatabase(logger, appCfg)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	dispatcher := newDispatcher(logger, appCfg, database)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger, map[string]workerPkg.Pinger{"database": database})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := healthServer.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		metrics.CollectDBStats(gctx, database, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		return runCron(gctx, logger, dispatcher, workerConfig, workerMetrics, healthServer)
	})
	if workerConfig.ConsumerEnabled() {
		g.Go(func() error {
			return runConsumer(gctx, logger, dispatcher, workerConfig, workerMetrics)
		})
	}
	// Runs alongside the consumer so its in-flight dispatch is bounded by
	// the shutdown deadline.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("in-flight dispatches cancelled", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", slog.Any("error", err))
	}
	logger.Info("worker stopped")
}

// initLogger builds the JSON logger and installs it as the slog default.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the pool and waits until the schema exists.
func initDatabase(logger *slog.Logger, cfg *config.AppConfig) *sql.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	waitForMigrations(logger, database)
	return database
}

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

	return notify.NewDispatcher(
		pgRepo.NewIntegrationRepo(database),
		pgRepo.NewIntegrationLogRepo(database),
		cipher,
		registry,
		notify.WithMaxConcurrent(cfg.NotifyMaxConcurrent),
		notify.WithSendTimeout(cfg.NotifySendTimeout),
	)
}

// runCron schedules the recheck sweep and blocks until ctx is done.
func runCron(ctx context.Context, logger *slog.Logger, rechecker Rechecker, cfg *workerPkg.WorkerConfig, m *workerPkg.WorkerMetrics, healthServer *workerPkg.HealthServer) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err = c.AddFunc(cfg.RecheckSchedule, func() {
		runRecheckJob(ctx, logger, rechecker, cfg.RecheckTimeout, m)
	})
	if err != nil {
		return fmt.Errorf("add recheck job: %w", err)
	}
	c.Start()

	healthServer.SetReady(true)
	logger.Info("worker started", slog.String("schedule", cfg.RecheckSchedule), slog.String("timezone", cfg.Timezone))

	<-ctx.Done()
	healthServer.SetReady(false)
	<-c.Stop().Done()
	return nil
}

// runConsumer feeds events from the broker into the dispatcher until ctx is done.
func runConsumer(ctx context.Context, logger *slog.Logger, dispatcher eventbus.Dispatcher, cfg *workerPkg.WorkerConfig, m *workerPkg.WorkerMetrics) error {
	reader, err := eventbus.NewReader(eventbus.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	})
	if err != nil {
		return fmt.Errorf("event consumer: %w", err)
	}
	consumer := eventbus.NewConsumer(reader, dispatcher, m, logger)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Warn("failed to close event consumer", slog.Any("error", err))
		}
	}()

	logger.Info("event consumer started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group_id", cfg.KafkaGroupID))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, notify.ErrShuttingDown) {
		return fmt.Errorf("event consumer: %w", err)
	}
	return nil
}

// Rechecker retries integrations stuck in the error state.
type Rechecker interface {
	RecheckFailing(ctx context.Context) (notify.RecheckSummary, error)
}

// runRecheckJob executes a single sweep with timeout and error handling.
func runRecheckJob(ctx context.Context, logger *slog.Logger, rechecker Rechecker, timeout time.Duration, m *workerPkg.WorkerMetrics) {
	start := time.Now()
	logger.Info("recheck started")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summary, err := rechecker.RecheckFailing(ctx)
	m.RecordRecheck(err, time.Since(start), summary.Recovered)
	if err != nil {
		logger.Error("recheck failed", slog.Any("error", respond.SanitizeError(err)))
		return
	}

	logger.Info("recheck completed",
		slog.Int("checked", summary.Checked),
		slog.Int("recovered", summary.Recovered),
		slog.Duration("duration", time.Since(start)))
}
