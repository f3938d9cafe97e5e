package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/handler/http/requestid"
	"integration-hub/internal/resilience/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeIntegrationRepo struct {
	mu           sync.Mutex
	integrations map[string]*entity.Integration
	updates      map[string][]entity.IntegrationUpdate
	scopes       []entity.Scope
	listErr      error
	updateErr    error
}

func newFakeIntegrationRepo(integrations ...*entity.Integration) *fakeIntegrationRepo {
	r := &fakeIntegrationRepo{
		integrations: make(map[string]*entity.Integration),
		updates:      make(map[string][]entity.IntegrationUpdate),
	}
	for _, i := range integrations {
		r.integrations[i.ID] = i
	}
	return r
}

func (r *fakeIntegrationRepo) Get(_ context.Context, id string) (*entity.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.integrations[id]
	if !ok {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (r *fakeIntegrationRepo) ListByScope(_ context.Context, scope entity.Scope, status entity.IntegrationStatus) ([]*entity.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*entity.Integration
	for _, i := range r.integrations {
		if i.Status != status {
			continue
		}
		if scope.OrganisationID != "" {
			if i.OrganisationID == nil || *i.OrganisationID != scope.OrganisationID {
				continue
			}
		} else if i.UserID == nil || *i.UserID != scope.UserID {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeIntegrationRepo) ListByStatus(_ context.Context, status entity.IntegrationStatus) ([]*entity.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Integration
	for _, i := range r.integrations {
		if i.Status == status {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Update records update and applies it to the stored row, like the
// Postgres adapter does.
func (r *fakeIntegrationRepo) Update(_ context.Context, id string, update entity.IntegrationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[id] = append(r.updates[id], update)
	if r.updateErr != nil {
		return r.updateErr
	}
	i, ok := r.integrations[id]
	if !ok {
		return nil
	}
	if update.Status != nil {
		i.Status = *update.Status
	}
	if update.ClearError {
		i.ErrorMessage = nil
	}
	if update.ErrorMessage != nil {
		msg := *update.ErrorMessage
		i.ErrorMessage = &msg
	}
	if update.LastUsedAt != nil {
		i.LastUsedAt = update.LastUsedAt
	}
	if update.ConnectedAt != nil {
		i.ConnectedAt = update.ConnectedAt
	}
	if update.Credentials != nil {
		i.Credentials = *update.Credentials
	}
	return nil
}

func (r *fakeIntegrationRepo) stored(id string) entity.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.integrations[id]
}

func (r *fakeIntegrationRepo) updatesFor(id string) []entity.IntegrationUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.IntegrationUpdate(nil), r.updates[id]...)
}

func (r *fakeIntegrationRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		n += len(u)
	}
	return n
}

type fakeLogRepo struct {
	mu        sync.Mutex
	entries   []*entity.IntegrationLog
	insertErr error
	lastLimit int
}

func (r *fakeLogRepo) Insert(_ context.Context, entry *entity.IntegrationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLogRepo) ListByIntegration(_ context.Context, integrationID string, limit int) ([]*entity.IntegrationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	var out []*entity.IntegrationLog
	for _, e := range r.entries {
		if e.IntegrationID == integrationID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeLogRepo) all() []*entity.IntegrationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.IntegrationLog(nil), r.entries...)
}

func (r *fakeLogRepo) byIntegration(id string) *entity.IntegrationLog {
	for _, e := range r.all() {
		if e.IntegrationID == id {
			return e
		}
	}
	return nil
}

// fakeCipher treats the ciphertext as the webhook URL or access token.
type fakeCipher struct {
	failFor string
}

func (c fakeCipher) Encrypt(_ string, creds entity.Credentials) (string, error) {
	return "enc:" + creds.AccessToken, nil
}

func (c fakeCipher) Decrypt(integrationID, ciphertext string) (entity.Credentials, error) {
	if integrationID == c.failFor {
		return entity.Credentials{}, errors.New("message authentication failed")
	}
	return entity.Credentials{WebhookURL: ciphertext, AccessToken: ciphertext}, nil
}

type fakeProvider struct {
	typ    entity.IntegrationType
	calls  atomic.Int32
	send   func(creds entity.Credentials, event entity.IntegrationEvent) (entity.SendResult, error)
	tester func(creds entity.Credentials) (entity.TestResult, error)
}

func (p *fakeProvider) Type() entity.IntegrationType { return p.typ }

func (p *fakeProvider) Send(_ context.Context, creds entity.Credentials, event entity.IntegrationEvent, _ *entity.Settings) (entity.SendResult, error) {
	p.calls.Add(1)
	if p.send == nil {
		return entity.SendResult{Success: true, StatusCode: 200}, nil
	}
	return p.send(creds, event)
}

func (p *fakeProvider) TestConnection(_ context.Context, creds entity.Credentials) (entity.TestResult, error) {
	if p.tester == nil {
		return entity.TestResult{Success: true, Message: "Connexion réussie"}, nil
	}
	return p.tester(creds)
}

// --- helpers ---

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func orgIntegration(id string, typ entity.IntegrationType, events ...string) *entity.Integration {
	return &entity.Integration{
		ID:             id,
		Type:           typ,
		Credentials:    "secret-" + id,
		Settings:       entity.Settings{Events: events},
		Status:         entity.StatusConnected,
		OrganisationID: strPtr("org-1"),
	}
}

func inOrg(i *entity.Integration, org string) *entity.Integration {
	i.OrganisationID = strPtr(org)
	return i
}

func projectCreatedFor(org string) entity.IntegrationEvent {
	e := projectCreated()
	e.OrganisationID = org
	return e
}

func projectCreated() entity.IntegrationEvent {
	return entity.IntegrationEvent{
		Type:           entity.EventProjectCreated,
		Data:           map[string]any{"projectName": "Refonte"},
		OrganisationID: "org-1",
	}
}

func newTestDispatcher(repo *fakeIntegrationRepo, logs *fakeLogRepo, cipher Cipher, providers ...Provider) *Dispatcher {
	return NewDispatcher(repo, logs, cipher, NewRegistry(providers...),
		WithClock(func() time.Time { return fixedNow }),
		WithBreakers(circuitbreaker.NewSet(nil)))
}

// --- NotifyEvent ---

func TestNotifyEvent_FanOutSettlesEveryIntegration(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack}
	discord := &fakeProvider{typ: entity.TypeDiscord, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		return entity.SendResult{StatusCode: 404, Error: "Discord returned status 404: Unknown Webhook"}, nil
	}}
	trello := &fakeProvider{typ: entity.TypeTrello, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		return entity.SendResult{}, errors.New("trello: board_id is not configured")
	}}
	teams := &fakeProvider{typ: entity.TypeTeams}

	repo := newFakeIntegrationRepo(
		orgIntegration("i-slack", entity.TypeSlack, "project.created"),
		orgIntegration("i-discord", entity.TypeDiscord, "project.created", "comment.added"),
		orgIntegration("i-trello", entity.TypeTrello, "project.created"),
		orgIntegration("i-teams", entity.TypeTeams, "comment.added"),
	)
	logs := &fakeLogRepo{}
	d := newTestDispatcher(repo, logs, fakeCipher{}, slack, discord, trello, teams)

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 3, summary.Matched)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.NotEmpty(t, summary.RequestID)
	assert.Equal(t, int32(0), teams.calls.Load(), "unsubscribed integration must not be called")

	slackUpdates := repo.updatesFor("i-slack")
	require.Len(t, slackUpdates, 1)
	assert.Equal(t, entity.StatusConnected, *slackUpdates[0].Status)
	assert.True(t, slackUpdates[0].ClearError)
	assert.Equal(t, fixedNow, *slackUpdates[0].LastUsedAt)

	discordUpdates := repo.updatesFor("i-discord")
	require.Len(t, discordUpdates, 1)
	assert.Equal(t, entity.StatusError, *discordUpdates[0].Status)
	assert.Contains(t, *discordUpdates[0].ErrorMessage, "404")

	trelloUpdates := repo.updatesFor("i-trello")
	require.Len(t, trelloUpdates, 1)
	assert.Equal(t, "trello: board_id is not configured", *trelloUpdates[0].ErrorMessage)

	require.Len(t, logs.all(), 3)
	slackLog := logs.byIntegration("i-slack")
	require.NotNil(t, slackLog)
	assert.True(t, slackLog.Success)
	assert.Equal(t, entity.EventProjectCreated, slackLog.EventType)
	assert.Equal(t, 200, *slackLog.StatusCode)
	assert.Nil(t, slackLog.ErrorMessage)
	assert.NotEmpty(t, slackLog.ID)

	discordLog := logs.byIntegration("i-discord")
	require.NotNil(t, discordLog)
	assert.False(t, discordLog.Success)
	assert.Equal(t, 404, *discordLog.StatusCode)

	trelloLog := logs.byIntegration("i-trello")
	require.NotNil(t, trelloLog)
	assert.Nil(t, trelloLog.StatusCode)
	require.NotNil(t, trelloLog.DurationMS)
}

func TestNotifyEvent_NoSubscribedIntegration(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack}
	repo := newFakeIntegrationRepo(
		orgIntegration("i-1", entity.TypeSlack, "comment.added"),
		orgIntegration("i-2", entity.TypeSlack), // no events list: fail closed
	)
	logs := &fakeLogRepo{}
	d := newTestDispatcher(repo, logs, fakeCipher{}, slack)

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 0, summary.Matched)
	assert.Equal(t, int32(0), slack.calls.Load())
	assert.Equal(t, 0, repo.updateCount())
	assert.Empty(t, logs.all())
}

func TestNotifyEvent_OnlyConnectedIntegrations(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack}
	failing := orgIntegration("i-err", entity.TypeSlack, "project.created")
	failing.Status = entity.StatusError
	repo := newFakeIntegrationRepo(failing)
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, slack)

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 0, summary.Matched)
	assert.Equal(t, int32(0), slack.calls.Load())
}

func TestNotifyEvent_OrganisationTakesPrecedence(t *testing.T) {
	repo := newFakeIntegrationRepo()
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{})

	event := projectCreated()
	event.UserID = "user-9"
	d.NotifyEvent(context.Background(), event)

	require.Len(t, repo.scopes, 1)
	assert.Equal(t, entity.Scope{OrganisationID: "org-1"}, repo.scopes[0])
}

func TestNotifyEvent_StoreFailureIsSwallowed(t *testing.T) {
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	repo.listErr = errors.New("connection refused")
	slack := &fakeProvider{typ: entity.TypeSlack}
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, slack)

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, Summary{RequestID: summary.RequestID}, summary)
	assert.Equal(t, int32(0), slack.calls.Load())
}

func TestNotifyEvent_InvalidEventIsDropped(t *testing.T) {
	repo := newFakeIntegrationRepo()
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{})

	summary := d.NotifyEvent(context.Background(), entity.IntegrationEvent{Type: entity.EventProjectCreated})

	assert.Equal(t, 0, summary.Matched)
	assert.Empty(t, repo.scopes, "store must not be queried for an event without principal")
}

func TestNotifyEvent_KeepsRequestIDFromContext(t *testing.T) {
	d := newTestDispatcher(newFakeIntegrationRepo(), &fakeLogRepo{}, fakeCipher{})
	ctx := requestid.WithRequestID(context.Background(), "req-42")

	summary := d.NotifyEvent(ctx, projectCreated())

	assert.Equal(t, "req-42", summary.RequestID)
}

func TestNotifyEvent_PerIntegrationFailures(t *testing.T) {
	tests := []struct {
		name      string
		integ     *entity.Integration
		cipher    fakeCipher
		providers []Provider
		wantErr   string
	}{
		{
			name:      "unknown integration type",
			integ:     orgIntegration("i-x", entity.IntegrationType("fax"), "project.created"),
			providers: []Provider{&fakeProvider{typ: entity.TypeSlack}},
			wantErr:   "unknown integration type: fax",
		},
		{
			name:      "undecryptable credentials",
			integ:     orgIntegration("i-x", entity.TypeSlack, "project.created"),
			cipher:    fakeCipher{failFor: "i-x"},
			providers: []Provider{&fakeProvider{typ: entity.TypeSlack}},
			wantErr:   "cannot decrypt credentials",
		},
		{
			name:  "provider panic",
			integ: orgIntegration("i-x", entity.TypeSlack, "project.created"),
			providers: []Provider{&fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
				panic("nil map")
			}}},
			wantErr: "dispatch panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy := orgIntegration("i-ok", entity.TypeDiscord, "project.created")
			repo := newFakeIntegrationRepo(tt.integ, healthy)
			logs := &fakeLogRepo{}
			providers := append([]Provider{&fakeProvider{typ: entity.TypeDiscord}}, tt.providers...)
			d := newTestDispatcher(repo, logs, tt.cipher, providers...)

			summary := d.NotifyEvent(context.Background(), projectCreated())

			assert.Equal(t, 2, summary.Matched)
			assert.Equal(t, 1, summary.Succeeded)
			assert.Equal(t, 1, summary.Failed)

			updates := repo.updatesFor("i-x")
			require.Len(t, updates, 1)
			assert.Equal(t, entity.StatusError, *updates[0].Status)
			assert.Contains(t, *updates[0].ErrorMessage, tt.wantErr)

			entry := logs.byIntegration("i-x")
			require.NotNil(t, entry)
			assert.False(t, entry.Success)
		})
	}
}

func TestNotifyEvent_AuditFailureIsSwallowed(t *testing.T) {
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	logs := &fakeLogRepo{insertErr: errors.New("disk full")}
	d := newTestDispatcher(repo, logs, fakeCipher{}, &fakeProvider{typ: entity.TypeSlack})

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, repo.updatesFor("i-1"), 1)
}

func TestNotifyEvent_PersistsRefreshedCredentials(t *testing.T) {
	gmail := &fakeProvider{typ: entity.TypeGmail, send: func(creds entity.Credentials, _ entity.IntegrationEvent) (entity.SendResult, error) {
		refreshed := creds.WithAccessToken("fresh-token", fixedNow, time.Hour)
		return entity.SendResult{Success: true, StatusCode: 200, RefreshedCredentials: &refreshed}, nil
	}}
	repo := newFakeIntegrationRepo(orgIntegration("i-gmail", entity.TypeGmail, "project.created"))
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, gmail)

	d.NotifyEvent(context.Background(), projectCreated())

	updates := repo.updatesFor("i-gmail")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Credentials)
	assert.Equal(t, "enc:fresh-token", *updates[0].Credentials)
}

func TestNotifyEvent_OpenCircuitFailsFast(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		return entity.SendResult{StatusCode: 503, Error: "Slack returned status 503"}, nil
	}}
	repo := newFakeIntegrationRepo(
		orgIntegration("i-1", entity.TypeSlack, "project.created"),
		inOrg(orgIntegration("i-2", entity.TypeSlack, "project.created"), "org-2"),
	)
	breakers := circuitbreaker.NewSet(func(name string) circuitbreaker.Config {
		cfg := circuitbreaker.ProviderConfig(name)
		cfg.ConsecutiveFailures = 1
		return cfg
	})
	d := NewDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, NewRegistry(slack),
		WithClock(func() time.Time { return fixedNow }), WithBreakers(breakers))

	d.NotifyEvent(context.Background(), projectCreatedFor("org-1"))
	d.NotifyEvent(context.Background(), projectCreatedFor("org-2"))

	assert.Equal(t, int32(1), slack.calls.Load(), "open circuit must not reach the provider")
	updates := repo.updatesFor("i-2")
	require.Len(t, updates, 1)
	assert.Equal(t, ErrProviderUnavailable.Error(), *updates[0].ErrorMessage)
	assert.Equal(t, "open", d.BreakerStates()["slack"])
}

func TestNotifyEvent_ClientErrorsDoNotOpenCircuit(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		return entity.SendResult{StatusCode: 404, Error: "no_service"}, nil
	}}
	repo := newFakeIntegrationRepo(
		orgIntegration("i-1", entity.TypeSlack, "project.created"),
		orgIntegration("i-2", entity.TypeSlack, "project.created"),
		orgIntegration("i-3", entity.TypeSlack, "project.created"),
	)
	breakers := circuitbreaker.NewSet(func(name string) circuitbreaker.Config {
		cfg := circuitbreaker.ProviderConfig(name)
		cfg.ConsecutiveFailures = 1
		return cfg
	})
	d := NewDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, NewRegistry(slack), WithBreakers(breakers))

	d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, int32(3), slack.calls.Load())
	assert.Equal(t, "closed", d.BreakerStates()["slack"])
}

func TestNotifyEvent_BrokenTenantDoesNotBlockOthers(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(creds entity.Credentials, _ entity.IntegrationEvent) (entity.SendResult, error) {
		if strings.HasPrefix(creds.WebhookURL, "secret-dead") {
			return entity.SendResult{Error: "Slack request failed: dial tcp: no such host"}, nil
		}
		return entity.SendResult{Success: true, StatusCode: 200}, nil
	}}
	var broken []*entity.Integration
	for _, id := range []string{"dead-1", "dead-2", "dead-3", "dead-4", "dead-5", "dead-6"} {
		broken = append(broken, orgIntegration(id, entity.TypeSlack, "project.created"))
	}
	healthy := inOrg(orgIntegration("i-healthy", entity.TypeSlack, "project.created"), "org-2")
	repo := newFakeIntegrationRepo(append(broken, healthy)...)
	d := NewDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, NewRegistry(slack),
		WithClock(func() time.Time { return fixedNow }))

	first := d.NotifyEvent(context.Background(), projectCreatedFor("org-1"))
	second := d.NotifyEvent(context.Background(), projectCreatedFor("org-2"))

	assert.Equal(t, 6, first.Failed)
	assert.Equal(t, 1, second.Succeeded)
	assert.Equal(t, "closed", d.BreakerStates()["slack"])
	assert.Equal(t, entity.StatusConnected, repo.stored("i-healthy").Status)
}

func TestNotifyEvent_ThrottledSendKeepsStatus(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		return entity.SendResult{Throttled: true, Error: "Slack request timed out: outbound rate limit wait exceeded"}, nil
	}}
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	logs := &fakeLogRepo{}
	d := newTestDispatcher(repo, logs, fakeCipher{}, slack)

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, repo.updatesFor("i-1"), "a local throttle must not mark the integration as failing")
	assert.Equal(t, entity.StatusConnected, repo.stored("i-1").Status)
	entry := logs.byIntegration("i-1")
	require.NotNil(t, entry)
	assert.False(t, entry.Success)
}

func TestNotifyEvent_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return entity.SendResult{Success: true}, nil
	}
	var integrations []*entity.Integration
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		integrations = append(integrations, orgIntegration(id, entity.TypeSlack, "project.created"))
	}
	repo := newFakeIntegrationRepo(integrations...)
	d := NewDispatcher(repo, &fakeLogRepo{}, fakeCipher{},
		NewRegistry(&fakeProvider{typ: entity.TypeSlack, send: slow}), WithMaxConcurrent(2))

	summary := d.NotifyEvent(context.Background(), projectCreated())

	assert.Equal(t, 6, summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// --- async + shutdown ---

func TestNotifyEventAsync_ShutdownWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		<-release
		return entity.SendResult{Success: true}, nil
	}}
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	logs := &fakeLogRepo{}
	d := newTestDispatcher(repo, logs, fakeCipher{}, slack)

	require.NoError(t, d.NotifyEventAsync(context.Background(), projectCreated()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.Len(t, logs.all(), 1)
	assert.ErrorIs(t, d.NotifyEventAsync(context.Background(), projectCreated()), ErrShuttingDown)
}

func TestNotifyEventDetached_OutlivesCallerContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slack := &fakeProvider{typ: entity.TypeSlack, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		close(started)
		<-release
		return entity.SendResult{Success: true, StatusCode: 200}, nil
	}}
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	logs := &fakeLogRepo{}
	d := newTestDispatcher(repo, logs, fakeCipher{}, slack)

	callerCtx, cancelCaller := context.WithCancel(requestid.WithRequestID(context.Background(), "req-detached"))
	type outcome struct {
		summary Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := d.NotifyEventDetached(callerCtx, projectCreated())
		done <- outcome{summary, err}
	}()

	<-started
	cancelCaller()

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownErr <- d.Shutdown(ctx)
	}()

	select {
	case <-shutdownErr:
		t.Fatal("Shutdown returned while a detached dispatch was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "req-detached", got.summary.RequestID)
	assert.Equal(t, 1, got.summary.Succeeded)
	require.NoError(t, <-shutdownErr)
	assert.Len(t, logs.all(), 1)

	_, err := d.NotifyEventDetached(context.Background(), projectCreated())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_TimeoutCancelsInFlight(t *testing.T) {
	slack := &fakeProvider{typ: entity.TypeSlack}
	blocking := make(chan struct{})
	defer close(blocking)
	slack.send = func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		<-blocking
		return entity.SendResult{Success: true}, nil
	}
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, slack)

	require.NoError(t, d.NotifyEventAsync(context.Background(), projectCreated()))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}

// --- TestConnection ---

func TestTestConnection_NotFoundLeavesStoreUntouched(t *testing.T) {
	repo := newFakeIntegrationRepo()
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{})

	result, err := d.TestConnection(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrIntegrationNotFound)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "introuvable")
	assert.Equal(t, 0, repo.updateCount())
}

func TestTestConnection_RecordsOutcome(t *testing.T) {
	tests := []struct {
		name        string
		tester      func(entity.Credentials) (entity.TestResult, error)
		wantSuccess bool
		wantStatus  entity.IntegrationStatus
		wantMessage string
	}{
		{
			name:        "success connects",
			wantSuccess: true,
			wantStatus:  entity.StatusConnected,
		},
		{
			name: "failure stores the message",
			tester: func(entity.Credentials) (entity.TestResult, error) {
				return entity.TestResult{Message: "Webhook introuvable : recréez-le."}, nil
			},
			wantStatus:  entity.StatusError,
			wantMessage: "Webhook introuvable : recréez-le.",
		},
		{
			name: "provider error becomes a failed result",
			tester: func(entity.Credentials) (entity.TestResult, error) {
				return entity.TestResult{}, errors.New("token refresh failed: invalid_grant")
			},
			wantStatus:  entity.StatusError,
			wantMessage: "Impossible de vérifier la connexion : reconnectez l'intégration.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := orgIntegration("i-1", entity.TypeSlack, "project.created")
			failing.Status = entity.StatusError
			repo := newFakeIntegrationRepo(failing)
			d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, &fakeProvider{typ: entity.TypeSlack, tester: tt.tester})

			result, err := d.TestConnection(context.Background(), "i-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, result.Success)

			updates := repo.updatesFor("i-1")
			require.Len(t, updates, 1)
			assert.Equal(t, tt.wantStatus, *updates[0].Status)
			if tt.wantSuccess {
				assert.True(t, updates[0].ClearError)
				assert.Equal(t, fixedNow, *updates[0].ConnectedAt)
			} else {
				assert.Equal(t, tt.wantMessage, *updates[0].ErrorMessage)
			}
		})
	}
}

func TestTestConnection_PersistsRefreshedCredentials(t *testing.T) {
	calendar := &fakeProvider{typ: entity.TypeGoogleCalendar, tester: func(creds entity.Credentials) (entity.TestResult, error) {
		refreshed := creds.WithAccessToken("renewed", fixedNow, time.Hour)
		return entity.TestResult{Success: true, Message: "ok", RefreshedCredentials: &refreshed}, nil
	}}
	repo := newFakeIntegrationRepo(orgIntegration("i-cal", entity.TypeGoogleCalendar, "event.created"))
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, calendar)

	result, err := d.TestConnection(context.Background(), "i-cal")
	require.NoError(t, err)
	assert.Nil(t, result.RefreshedCredentials, "credentials must not leave the dispatcher")

	updates := repo.updatesFor("i-cal")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Credentials)
	assert.Equal(t, "enc:renewed", *updates[0].Credentials)
}

func TestTestConnection_UndecryptableCredentials(t *testing.T) {
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack))
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{failFor: "i-1"}, &fakeProvider{typ: entity.TypeSlack})

	result, err := d.TestConnection(context.Background(), "i-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Message, "Identifiants illisibles"))
}

func TestIntegrationStatus_RoundTrip(t *testing.T) {
	failing := orgIntegration("i-1", entity.TypeDiscord, "project.created")
	failing.Status = entity.StatusError
	failing.ErrorMessage = strPtr("Webhook Discord introuvable.")
	repo := newFakeIntegrationRepo(failing)

	sendFails := false
	discord := &fakeProvider{typ: entity.TypeDiscord, send: func(entity.Credentials, entity.IntegrationEvent) (entity.SendResult, error) {
		if sendFails {
			return entity.SendResult{StatusCode: 404, Error: "Discord API error 404: Unknown Webhook"}, nil
		}
		return entity.SendResult{Success: true, StatusCode: 204}, nil
	}}
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, discord)

	// error -> connected through a successful test
	result, err := d.TestConnection(context.Background(), "i-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	row := repo.stored("i-1")
	assert.Equal(t, entity.StatusConnected, row.Status)
	assert.Nil(t, row.ErrorMessage)
	require.NotNil(t, row.ConnectedAt)
	assert.Equal(t, fixedNow, *row.ConnectedAt)

	// connected integrations are dispatched to again
	summary := d.NotifyEvent(context.Background(), projectCreated())
	require.Equal(t, 1, summary.Succeeded)
	row = repo.stored("i-1")
	require.NotNil(t, row.LastUsedAt)
	assert.Nil(t, row.ErrorMessage)

	// connected -> error on a failed send
	sendFails = true
	summary = d.NotifyEvent(context.Background(), projectCreated())
	require.Equal(t, 1, summary.Failed)
	row = repo.stored("i-1")
	assert.Equal(t, entity.StatusError, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "404")

	// an integration in error is no longer dispatched to
	summary = d.NotifyEvent(context.Background(), projectCreated())
	assert.Equal(t, 0, summary.Matched)
	assert.Equal(t, int32(2), discord.calls.Load())
}

// --- logs, stats, recheck ---

func TestGetIntegrationLogsAndStats(t *testing.T) {
	repo := newFakeIntegrationRepo(orgIntegration("i-1", entity.TypeSlack, "project.created"))
	logs := &fakeLogRepo{}
	ms := func(v int64) *int64 { return &v }
	logs.entries = []*entity.IntegrationLog{
		{IntegrationID: "i-1", Success: true, DurationMS: ms(100)},
		{IntegrationID: "i-1", Success: true, DurationMS: ms(300)},
		{IntegrationID: "i-1", Success: false},
		{IntegrationID: "other", Success: true, DurationMS: ms(999)},
	}
	d := newTestDispatcher(repo, logs, fakeCipher{})

	entries, err := d.GetIntegrationLogs(context.Background(), "i-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, DefaultLogLimit, logs.lastLimit)

	_, err = d.GetIntegrationLogs(context.Background(), "i-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, logs.lastLimit)

	stats, err := d.GetIntegrationStats(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, entity.IntegrationStats{
		TotalCalls:      3,
		SuccessfulCalls: 2,
		FailedCalls:     1,
		SuccessRate:     67,
		AvgDuration:     200,
	}, stats)

	_, err = d.GetIntegrationStats(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
	_, err = d.GetIntegrationLogs(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestRecheckFailing(t *testing.T) {
	recovering := orgIntegration("i-ok", entity.TypeSlack)
	recovering.Status = entity.StatusError
	stillBroken := orgIntegration("i-bad", entity.TypeDiscord)
	stillBroken.Status = entity.StatusError
	connected := orgIntegration("i-fine", entity.TypeSlack)

	repo := newFakeIntegrationRepo(recovering, stillBroken, connected)
	discord := &fakeProvider{typ: entity.TypeDiscord, tester: func(entity.Credentials) (entity.TestResult, error) {
		return entity.TestResult{Message: "Webhook non autorisé ou désactivé."}, nil
	}}
	d := newTestDispatcher(repo, &fakeLogRepo{}, fakeCipher{}, &fakeProvider{typ: entity.TypeSlack}, discord)

	summary, err := d.RecheckFailing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecheckSummary{Checked: 2, Recovered: 1}, summary)

	require.Len(t, repo.updatesFor("i-ok"), 1)
	assert.Equal(t, entity.StatusConnected, *repo.updatesFor("i-ok")[0].Status)
	require.Len(t, repo.updatesFor("i-bad"), 1)
	assert.Equal(t, entity.StatusError, *repo.updatesFor("i-bad")[0].Status)
	assert.Empty(t, repo.updatesFor("i-fine"))
}

func TestRegistry(t *testing.T) {
	first := &fakeProvider{typ: entity.TypeSlack}
	second := &fakeProvider{typ: entity.TypeSlack}
	r := NewRegistry(first, &fakeProvider{typ: entity.TypeDiscord}, second)

	p, ok := r.Get(entity.TypeSlack)
	require.True(t, ok)
	assert.Same(t, second, p)

	_, ok = r.Get(entity.TypeGmail)
	assert.False(t, ok)
	assert.Equal(t, []entity.IntegrationType{entity.TypeDiscord, entity.TypeSlack}, r.Types())
}
