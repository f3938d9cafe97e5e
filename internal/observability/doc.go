// Package observability groups the logging, metrics and tracing helpers
// shared by the api and worker binaries.
//
// Subpackages:
//   - logging: slog JSON logger, level from LOG_LEVEL, request-scoped fields
//   - metrics: database connection pool gauges
//   - tracing: OpenTelemetry tracer, SDK bootstrap and HTTP middleware
package observability
