// Package notify routes integration events to every subscribed third-party
// integration and keeps their connection state and audit log current.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/handler/http/requestid"
	"integration-hub/internal/observability/tracing"
	"integration-hub/internal/repository"
	"integration-hub/internal/resilience/circuitbreaker"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxConcurrent bounds provider calls in flight per event.
	DefaultMaxConcurrent = 10
	// DefaultSendTimeout caps one provider send including token refresh.
	DefaultSendTimeout = 30 * time.Second
	// DefaultLogLimit is the audit page size when the caller passes none.
	DefaultLogLimit = 50
)

// Summary reports what one NotifyEvent call did.
type Summary struct {
	RequestID string
	Matched   int
	Succeeded int
	Failed    int
}

// RecheckSummary reports what one RecheckFailing sweep did.
type RecheckSummary struct {
	Checked   int
	Recovered int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMaxConcurrent bounds concurrent provider calls per event.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// WithSendTimeout caps each provider call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithBreakers replaces the per-type circuit breakers.
func WithBreakers(breakers *circuitbreaker.Set) Option {
	return func(d *Dispatcher) {
		if breakers != nil {
			d.breakers = breakers
		}
	}
}

// Dispatcher fans one event out to every subscribed integration of its
// principal. Each integration is isolated: its failure is recorded on its
// own row and never affects the others or the caller.
type Dispatcher struct {
	integrations repository.IntegrationRepository
	logs         repository.IntegrationLogRepository
	cipher       Cipher
	providers    *Registry
	breakers     *circuitbreaker.Set

	now           func() time.Time
	maxConcurrent int
	sendTimeout   time.Duration

	mu             sync.Mutex         // Guards closed against wg.Add
	closed         bool               // Set once Shutdown is called
	wg             sync.WaitGroup     // Track background dispatches
	shutdownCtx    context.Context    // Cancelled when Shutdown gives up waiting
	shutdownCancel context.CancelFunc // Cancel function for shutdown
}

// NewDispatcher creates a Dispatcher over the given store, cipher and providers.
func NewDispatcher(
	integrations repository.IntegrationRepository,
	logs repository.IntegrationLogRepository,
	cipher Cipher,
	providers *Registry,
	opts ...Option,
) *Dispatcher {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		integrations:   integrations,
		logs:           logs,
		cipher:         cipher,
		providers:      providers,
		now:            time.Now,
		maxConcurrent:  DefaultMaxConcurrent,
		sendTimeout:    DefaultSendTimeout,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breakers == nil {
		d.breakers = circuitbreaker.NewSet(func(name string) circuitbreaker.Config {
			cfg := circuitbreaker.ProviderConfig(name)
			cfg.OnOpen = RecordCircuitBreakerOpen
			return cfg
		})
	}
	return d
}

// NotifyEvent delivers event to every connected integration of its
// principal that subscribes to event.Type, and waits until each delivery
// has settled. It never fails: store errors are logged and yield an empty
// Summary, delivery errors are recorded per integration.
func (d *Dispatcher) NotifyEvent(ctx context.Context, event entity.IntegrationEvent) Summary {
	reqID := requestid.FromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
		ctx = requestid.WithRequestID(ctx, reqID)
	}
	summary := Summary{RequestID: reqID}

	if err := event.Validate(); err != nil {
		slog.Warn("Invalid integration event",
			slog.String("request_id", reqID),
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		RecordDropped("all", "invalid")
		return summary
	}

	ctx, span := tracing.GetTracer().Start(ctx, "notify.NotifyEvent",
		trace.WithAttributes(attribute.String("event.type", string(event.Type))))
	defer span.End()

	candidates, err := d.integrations.ListByScope(ctx, event.Scope(), entity.StatusConnected)
	if err != nil {
		slog.Error("Failed to load integrations",
			slog.String("request_id", reqID),
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "load integrations")
		return summary
	}

	targets := make([]*entity.Integration, 0, len(candidates))
	for _, integ := range candidates {
		if integ != nil && integ.Settings.Subscribes(event.Type) {
			targets = append(targets, integ)
		}
	}
	summary.Matched = len(targets)
	RecordMatches(string(event.Type), len(targets))
	span.SetAttributes(attribute.Int("integrations.matched", len(targets)))

	if len(targets) == 0 {
		slog.Debug("No integration subscribed to event",
			slog.String("request_id", reqID),
			slog.String("event_type", string(event.Type)))
		return summary
	}

	slog.Info("Dispatching integration event",
		slog.String("request_id", reqID),
		slog.String("event_type", string(event.Type)),
		slog.Int("integrations", len(targets)))

	outcomes := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)
	for i, integ := range targets {
		g.Go(func() error {
			outcomes[i] = d.dispatch(ctx, reqID, integ, event)
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range outcomes {
		if ok {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	span.SetAttributes(
		attribute.Int("integrations.succeeded", summary.Succeeded),
		attribute.Int("integrations.failed", summary.Failed))
	return summary
}

// NotifyEventAsync runs NotifyEvent in the background and returns at once.
// The dispatch is detached from ctx cancellation but keeps its request id.
// Shutdown waits for it and cancels it only when its own deadline expires.
func (d *Dispatcher) NotifyEventAsync(ctx context.Context, event entity.IntegrationEvent) error {
	bgCtx, reqID, err := d.detach(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in background dispatch",
					slog.String("request_id", reqID),
					slog.String("event_type", string(event.Type)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		d.NotifyEvent(bgCtx, event)
	}()
	return nil
}

// NotifyEventDetached is the blocking form of NotifyEventAsync. Cancelling
// ctx does not abort the sends; Shutdown waits for them as for background
// dispatches.
func (d *Dispatcher) NotifyEventDetached(ctx context.Context, event entity.IntegrationEvent) (Summary, error) {
	bgCtx, _, err := d.detach(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer d.wg.Done()
	return d.NotifyEvent(bgCtx, event), nil
}

// detach registers one in-flight dispatch and derives its context from the
// dispatcher's lifetime, carrying over the request id and span of ctx.
// The caller must call d.wg.Done when err is nil.
func (d *Dispatcher) detach(ctx context.Context) (context.Context, string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		RecordDropped("all", "shutdown")
		return nil, "", ErrShuttingDown
	}
	d.wg.Add(1)
	d.mu.Unlock()

	reqID := requestid.FromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	bgCtx := requestid.WithRequestID(d.shutdownCtx, reqID)
	bgCtx = trace.ContextWithSpanContext(bgCtx, trace.SpanContextFromContext(ctx))
	return bgCtx, reqID, nil
}

// dispatch delivers event to one integration and records the outcome on
// the integration row and in the audit log. It reports whether the
// delivery succeeded.
func (d *Dispatcher) dispatch(ctx context.Context, reqID string, integ *entity.Integration, event entity.IntegrationEvent) bool {
	IncrementActiveDispatches()
	defer DecrementActiveDispatches()

	itype := string(integ.Type)
	logger := slog.With(
		slog.String("request_id", reqID),
		slog.String("integration_id", integ.ID),
		slog.String("integration_type", itype),
		slog.String("event_type", string(event.Type)))

	ctx, span := tracing.GetTracer().Start(ctx, "notify.dispatch",
		trace.WithAttributes(
			attribute.String("integration.id", integ.ID),
			attribute.String("integration.type", itype),
			attribute.String("event.type", string(event.Type))))
	defer span.End()

	RecordDispatch(itype, string(event.Type))
	started := d.now()
	result, err := d.send(ctx, integ, event)
	duration := d.now().Sub(started)

	success := err == nil && result.Success
	errMsg := result.Error
	if err != nil {
		errMsg = err.Error()
	}

	if success {
		RecordSuccess(itype, duration)
		logger.Info("Integration notified",
			slog.Int("status_code", result.StatusCode),
			slog.Duration("send_duration", duration))
	} else {
		RecordFailure(itype, duration)
		span.SetStatus(codes.Error, errMsg)
		logger.Warn("Integration notification failed",
			slog.Int("status_code", result.StatusCode),
			slog.Duration("send_duration", duration),
			slog.String("error", errMsg))
	}

	// A local throttle says nothing about the integration itself, so its
	// status is left as is; the attempt is still audited.
	var update entity.IntegrationUpdate
	switch {
	case success:
		update = entity.MarkSucceeded(d.now())
	case result.Throttled:
		RecordDropped(itype, "rate_limited")
	default:
		update = entity.MarkFailed(errMsg)
	}
	d.attachRefreshed(logger, integ, result.RefreshedCredentials, &update)
	if !update.IsEmpty() {
		if err := d.integrations.Update(ctx, integ.ID, update); err != nil {
			logger.Error("Failed to update integration status", slog.Any("error", err))
		}
	}

	d.audit(ctx, logger, auditEntry(integ.ID, event.Type, success, duration, result.StatusCode, errMsg, d.now()))
	return success
}

// sendOutcome carries a provider result through the circuit breaker.
type sendOutcome struct {
	result entity.SendResult
	err    error
}

// send resolves the provider and credentials and performs the call behind
// the circuit breaker for the integration type.
func (d *Dispatcher) send(ctx context.Context, integ *entity.Integration, event entity.IntegrationEvent) (result entity.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in integration provider",
				slog.String("integration_id", integ.ID),
				slog.String("integration_type", string(integ.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result, err = entity.SendResult{}, fmt.Errorf("%w: %v", ErrDispatchPanic, r)
		}
	}()

	provider, ok := d.providers.Get(integ.Type)
	if !ok {
		return entity.SendResult{}, fmt.Errorf("%w: %s", entity.ErrUnknownIntegrationType, integ.Type)
	}

	creds, err := d.cipher.Decrypt(integ.ID, integ.Credentials)
	if err != nil {
		return entity.SendResult{}, fmt.Errorf("%w: %v", ErrDecryptCredentials, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	settings := integ.Settings
	out, err := d.breakers.Get(string(integ.Type)).Execute(func() (interface{}, error) {
		res, sendErr := provider.Send(sendCtx, creds, event, &settings)
		o := sendOutcome{result: res, err: sendErr}
		if sendErr == nil && isProviderFault(res) {
			return o, errProviderFault
		}
		return o, nil
	})
	if circuitbreaker.IsRejection(err) {
		RecordDropped(string(integ.Type), "circuit_open")
		return entity.SendResult{Error: ErrProviderUnavailable.Error()}, nil
	}
	o, _ := out.(sendOutcome)
	return o.result, o.err
}

// isProviderFault reports whether a failed result points at the provider
// itself: only a 5xx answer does. Local throttling, timeouts and network
// errors stay with the integration that hit them, so a tenant's dead
// webhook host cannot open the breaker for everyone else.
func isProviderFault(r entity.SendResult) bool {
	return !r.Success && r.StatusCode >= 500
}

// TestConnection checks the stored credentials of one integration against
// its provider and records the outcome on the integration row. An unknown
// id returns a not-found result together with ErrIntegrationNotFound and
// leaves the store untouched.
func (d *Dispatcher) TestConnection(ctx context.Context, integrationID string) (entity.TestResult, error) {
	reqID := requestid.FromContext(ctx)
	ctx, span := tracing.GetTracer().Start(ctx, "notify.TestConnection",
		trace.WithAttributes(attribute.String("integration.id", integrationID)))
	defer span.End()

	integ, err := d.integrations.Get(ctx, integrationID)
	if err != nil {
		span.RecordError(err)
		return entity.TestResult{}, fmt.Errorf("load integration: %w", err)
	}
	if integ == nil {
		return entity.TestResult{Success: false, Message: "Intégration introuvable."}, ErrIntegrationNotFound
	}

	logger := slog.With(
		slog.String("request_id", reqID),
		slog.String("integration_id", integ.ID),
		slog.String("integration_type", string(integ.Type)))

	result := d.testConnection(ctx, logger, integ)
	RecordConnectionTest(string(integ.Type), result.Success)

	var update entity.IntegrationUpdate
	if result.Success {
		update = entity.MarkConnected(d.now())
		logger.Info("Integration connection test succeeded")
	} else {
		update = entity.MarkFailed(result.Message)
		logger.Warn("Integration connection test failed",
			slog.String("message", result.Message),
			slog.String("details", result.Details))
	}
	d.attachRefreshed(logger, integ, result.RefreshedCredentials, &update)
	if err := d.integrations.Update(ctx, integ.ID, update); err != nil {
		logger.Error("Failed to update integration status", slog.Any("error", err))
	}

	result.RefreshedCredentials = nil
	return result, nil
}

func (d *Dispatcher) testConnection(ctx context.Context, logger *slog.Logger, integ *entity.Integration) (result entity.TestResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in integration connection test",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = entity.TestResult{Message: "Erreur interne lors du test de connexion."}
		}
	}()

	provider, ok := d.providers.Get(integ.Type)
	if !ok {
		return entity.TestResult{
			Message: "Type d'intégration non pris en charge.",
			Details: string(integ.Type),
		}
	}

	creds, err := d.cipher.Decrypt(integ.ID, integ.Credentials)
	if err != nil {
		logger.Error("Failed to decrypt credentials", slog.Any("error", err))
		return entity.TestResult{Message: "Identifiants illisibles : reconnectez l'intégration."}
	}

	testCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	result, err = provider.TestConnection(testCtx, creds)
	if err != nil {
		return entity.TestResult{
			Message: "Impossible de vérifier la connexion : reconnectez l'intégration.",
			Details: err.Error(),
		}
	}
	return result
}

// attachRefreshed re-encrypts refreshed OAuth credentials into update.
func (d *Dispatcher) attachRefreshed(logger *slog.Logger, integ *entity.Integration, refreshed *entity.Credentials, update *entity.IntegrationUpdate) {
	if refreshed == nil {
		return
	}
	ciphertext, err := d.cipher.Encrypt(integ.ID, *refreshed)
	if err != nil {
		logger.Error("Failed to encrypt refreshed credentials", slog.Any("error", err))
		return
	}
	update.Credentials = &ciphertext
	RecordTokenRefresh(string(integ.Type))
}

// audit appends entry to the integration log. Failures are logged and dropped.
func (d *Dispatcher) audit(ctx context.Context, logger *slog.Logger, entry *entity.IntegrationLog) {
	if err := d.logs.Insert(ctx, entry); err != nil {
		RecordAuditWriteFailure()
		logger.Error("Failed to write integration log", slog.Any("error", err))
	}
}

func auditEntry(integrationID string, eventType entity.EventType, success bool, duration time.Duration, statusCode int, errMsg string, at time.Time) *entity.IntegrationLog {
	ms := duration.Milliseconds()
	entry := &entity.IntegrationLog{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		EventType:     eventType,
		Success:       success,
		DurationMS:    &ms,
		CreatedAt:     at,
	}
	if statusCode != 0 {
		entry.StatusCode = &statusCode
	}
	if errMsg != "" {
		entry.ErrorMessage = &errMsg
	}
	return entry
}

// GetIntegrationLogs returns the newest audit rows of one integration.
// limit <= 0 uses DefaultLogLimit.
func (d *Dispatcher) GetIntegrationLogs(ctx context.Context, integrationID string, limit int) ([]*entity.IntegrationLog, error) {
	if err := d.ensureExists(ctx, integrationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	entries, err := d.logs.ListByIntegration(ctx, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list integration logs: %w", err)
	}
	return entries, nil
}

// GetIntegrationStats aggregates the whole audit log of one integration.
func (d *Dispatcher) GetIntegrationStats(ctx context.Context, integrationID string) (entity.IntegrationStats, error) {
	if err := d.ensureExists(ctx, integrationID); err != nil {
		return entity.IntegrationStats{}, err
	}
	entries, err := d.logs.ListByIntegration(ctx, integrationID, 0)
	if err != nil {
		return entity.IntegrationStats{}, fmt.Errorf("list integration logs: %w", err)
	}
	return entity.ComputeStats(entries), nil
}

func (d *Dispatcher) ensureExists(ctx context.Context, integrationID string) error {
	integ, err := d.integrations.Get(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	if integ == nil {
		return ErrIntegrationNotFound
	}
	return nil
}

// RecheckFailing runs a connection test on every integration in the error
// state. Integrations whose test passes go back to connected.
func (d *Dispatcher) RecheckFailing(ctx context.Context) (RecheckSummary, error) {
	failing, err := d.integrations.ListByStatus(ctx, entity.StatusError)
	if err != nil {
		return RecheckSummary{}, fmt.Errorf("list failing integrations: %w", err)
	}

	recovered := make([]bool, len(failing))
	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)
	for i, integ := range failing {
		if integ == nil {
			continue
		}
		g.Go(func() error {
			result, err := d.TestConnection(ctx, integ.ID)
			if err != nil && !errors.Is(err, ErrIntegrationNotFound) {
				slog.Warn("Recheck failed",
					slog.String("integration_id", integ.ID),
					slog.Any("error", err))
				return nil
			}
			recovered[i] = result.Success
			return nil
		})
	}
	_ = g.Wait()

	summary := RecheckSummary{Checked: len(failing)}
	for _, ok := range recovered {
		if ok {
			summary.Recovered++
		}
	}
	slog.Info("Recheck of failing integrations complete",
		slog.Int("checked", summary.Checked),
		slog.Int("recovered", summary.Recovered))
	return summary, nil
}

// BreakerStates exposes the circuit state per integration type for health checks.
func (d *Dispatcher) BreakerStates() map[string]string {
	states := d.breakers.States()
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}

// Shutdown stops accepting background dispatches and waits for in-flight
// ones to finish. When ctx expires first, in-flight dispatches are
// cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down integration dispatcher")

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.shutdownCancel()
		slog.Info("Integration dispatcher shutdown complete")
		return nil
	case <-ctx.Done():
		d.shutdownCancel()
		slog.Warn("Integration dispatcher shutdown timeout")
		return ctx.Err()
	}
}
