package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrIntegrationNotFound indicates that the integration id does not resolve.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrProviderUnavailable is recorded when the circuit breaker for an
	// integration type rejects the call. It is stored as the integration's
	// error message like any other failure.
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")

	// ErrDecryptCredentials wraps a cipher failure on stored credentials.
	ErrDecryptCredentials = errors.New("cannot decrypt credentials")

	// ErrDispatchPanic is recorded when a provider panics during a send.
	ErrDispatchPanic = errors.New("dispatch panicked")

	// ErrShuttingDown is returned by NotifyEventAsync after Shutdown was called.
	ErrShuttingDown = errors.New("dispatcher is shutting down")

	// errProviderFault marks a send result the circuit breaker should count.
	errProviderFault = errors.New("provider fault")
)
