// Package logging builds the process logger on log/slog and carries
// request-scoped fields through contexts.
//
// Example usage:
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//	logging.WithRequestID(ctx, logger).Info("event accepted")
package logging
