package notify

import (
	"context"
	"sort"
	"sync"

	"integration-hub/internal/domain/entity"
)

// Provider delivers events to one third-party integration type.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the integration type this provider serves.
	Type() entity.IntegrationType

	// Send formats event and delivers it using creds.
	//
	// Transport failures (non-2xx, timeouts, network errors) are reported
	// in the returned SendResult with a nil error. A non-nil error means
	// the integration is misconfigured (missing board, refresh rejected)
	// and no delivery was attempted or could complete.
	//
	// An event the provider has no content for returns a successful result
	// without any network call.
	Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error)

	// TestConnection checks that creds are usable and reports the outcome
	// as a user-facing TestResult.
	TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error)
}

// Cipher is the opaque boundary around stored credentials.
type Cipher interface {
	Encrypt(integrationID string, creds entity.Credentials) (string, error)
	Decrypt(integrationID, ciphertext string) (entity.Credentials, error)
}

// Registry maps integration types to their provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[entity.IntegrationType]Provider
}

// NewRegistry returns a registry holding providers.
// A later provider replaces an earlier one of the same type.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[entity.IntegrationType]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Type().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get returns the provider for t.
func (r *Registry) Get(t entity.IntegrationType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	return p, ok
}

// Types returns the registered integration types in sorted order.
func (r *Registry) Types() []entity.IntegrationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]entity.IntegrationType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
