// Package config provides fail-open environment loading: an invalid value
// never stops a process, it falls back to the default and leaves a warning
// and a metric behind.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigLoadResult is the outcome of loading one environment variable.
// Value holds the environment value when it parsed and validated, the
// default otherwise.
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

func fallback(envKey, raw string, reason interface{}, defaultValue interface{}) ConfigLoadResult {
	return ConfigLoadResult{
		Value:           defaultValue,
		Warnings:        []string{fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, reason, defaultValue)},
		FallbackApplied: true,
	}
}

// LoadEnvString returns the variable or defaultValue when it is unset.
func LoadEnvString(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

// LoadEnvWithFallback loads a string and checks it with validator.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	if validator != nil {
		if err := validator(raw); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: raw}
}

// LoadEnvDuration loads a Go duration string such as "10s" or "1h30m".
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback(envKey, raw, err, defaultValue)
	}
	if validator != nil {
		if err := validator(d); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: d}
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback(envKey, raw, "invalid integer format", defaultValue)
	}
	if validator != nil {
		if err := validator(n); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: n}
}

// LoadEnvBool loads a boolean in any form accepted by strconv.ParseBool.
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback(envKey, raw, "expected 'true' or 'false'", defaultValue)
	}
	return ConfigLoadResult{Value: b}
}

// LoadEnvList loads a comma separated list, trimming blanks.
func LoadEnvList(envKey string, defaultValue []string) []string {
	raw := os.Getenv(envKey)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Loader applies load results for one component, logging each fallback
// and counting it in metrics. Metrics may be nil.
type Loader struct {
	logger   *slog.Logger
	metrics  *ConfigMetrics
	fallback bool
}

// NewLoader returns a Loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger, metrics *ConfigMetrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, metrics: metrics}
}

// Apply records result for field and returns its value.
func (l *Loader) Apply(field string, result ConfigLoadResult) interface{} {
	if result.FallbackApplied {
		l.fallback = true
		if l.metrics != nil {
			l.metrics.RecordValidationError(field)
			l.metrics.RecordFallback(field, "default")
		}
		for _, warning := range result.Warnings {
			l.logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}
	return result.Value
}

// String loads a validated string field.
func (l *Loader) String(field, envKey, defaultValue string, validator func(string) error) string {
	return l.Apply(field, LoadEnvWithFallback(envKey, defaultValue, validator)).(string)
}

// Int loads a validated integer field.
func (l *Loader) Int(field, envKey string, defaultValue int, validator func(int) error) int {
	return l.Apply(field, LoadEnvInt(envKey, defaultValue, validator)).(int)
}

// Duration loads a validated duration field.
func (l *Loader) Duration(field, envKey string, defaultValue time.Duration, validator func(time.Duration) error) time.Duration {
	return l.Apply(field, LoadEnvDuration(envKey, defaultValue, validator)).(time.Duration)
}

// Bool loads a boolean field.
func (l *Loader) Bool(field, envKey string, defaultValue bool) bool {
	return l.Apply(field, LoadEnvBool(envKey, defaultValue)).(bool)
}

// Finish publishes the fallback gauge and load timestamp and reports
// whether any field fell back.
func (l *Loader) Finish() bool {
	if l.metrics != nil {
		l.metrics.SetFallbackActive("", l.fallback)
		l.metrics.RecordLoadTimestamp()
	}
	return l.fallback
}
