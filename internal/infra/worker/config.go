// Package worker holds the configuration, metrics and health endpoints of
// the background worker: the Kafka event consumer and the scheduled
// recheck of integrations in the error state.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"integration-hub/internal/pkg/config"
)

// WorkerConfig controls the worker process.
//
// Every field has a default and a validation rule; LoadConfigFromEnv never
// fails, an invalid value falls back to its default with a warning.
type WorkerConfig struct {
	// RecheckSchedule is the five-field cron expression of the recheck sweep.
	// Default: every 15 minutes.
	RecheckSchedule string

	// Timezone is the IANA zone the schedule is evaluated in.
	Timezone string

	// RecheckTimeout bounds one sweep. Range 1m-1h.
	RecheckTimeout time.Duration

	// HealthPort serves /health, /health/ready and /metrics. Range 1024-65535.
	HealthPort int

	// KafkaBrokers is empty when event intake is disabled.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		RecheckSchedule: "*/15 * * * *",
		Timezone:        "Europe/Paris",
		RecheckTimeout:  10 * time.Minute,
		HealthPort:      9091,
		KafkaTopic:      "integration-events",
		KafkaGroupID:    "integration-hub-worker",
	}
}

// ConsumerEnabled reports whether Kafka intake is configured.
func (c *WorkerConfig) ConsumerEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// Validate collects every invalid field into one error.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.RecheckSchedule); err != nil {
		errs = append(errs, fmt.Errorf("recheck schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateDuration(c.RecheckTimeout, time.Minute, time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("recheck timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaGroupID == "" {
		errs = append(errs, fmt.Errorf("kafka group id: required when brokers are set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration with fail-open fallbacks.
//
// Environment variables:
//   - RECHECK_SCHEDULE: cron expression (default "*/15 * * * *")
//   - RECHECK_TIMEZONE: IANA zone (default "Europe/Paris")
//   - RECHECK_TIMEOUT: duration 1m-1h (default 10m)
//   - WORKER_HEALTH_PORT: 1024-65535 (default 9091)
//   - KAFKA_BROKERS: comma separated host:port list (default none)
//   - KAFKA_TOPIC, KAFKA_GROUP_ID
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	var cm *config.ConfigMetrics
	if metrics != nil {
		cm = metrics.ConfigMetrics
	}
	l := config.NewLoader(logger, cm)

	cfg.RecheckSchedule = l.String("recheck_schedule", "RECHECK_SCHEDULE", cfg.RecheckSchedule, config.ValidateCronSchedule)
	cfg.Timezone = l.String("timezone", "RECHECK_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.RecheckTimeout = l.Duration("recheck_timeout", "RECHECK_TIMEOUT", cfg.RecheckTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, time.Hour)
	})
	cfg.HealthPort = l.Int("health_port", "WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.KafkaBrokers = config.LoadEnvList("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = config.LoadEnvString("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaGroupID = config.LoadEnvString("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	l.Finish()

	return &cfg, nil
}
