package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"integration-hub/internal/domain/entity"
)

func TestValidateSlackWebhookURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://hooks.slack.com/services/T1/B1/X1", true},
		{"http://hooks.slack.com/services/T1/B1/X1", false},
		{"https://hooks.slack.com/other/T1", false},
		{"https://hooks.slack.com/services/T1/B1", false},
		{"https://evil.example.com/services/T1/B1/X1", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateSlackWebhookURL(tt.url)
		if (err == nil) != tt.valid {
			t.Errorf("%q: expected valid=%v, got err=%v", tt.url, tt.valid, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidWebhookURL) {
			t.Errorf("%q: expected ErrInvalidWebhookURL, got %v", tt.url, err)
		}
	}
}

func TestValidateDiscordWebhookURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://discord.com/api/webhooks/123456/abc-DEF", true},
		{"https://discordapp.com/api/webhooks/123456/abc", true},
		{"https://discord.com/api/webhooks/abc/def", false},
		{"https://discord.com/api/webhooks/123456", false},
		{"http://discord.com/api/webhooks/123456/abc", false},
		{"https://discord.gg/api/webhooks/123456/abc", false},
	}
	for _, tt := range tests {
		if err := ValidateDiscordWebhookURL(tt.url); (err == nil) != tt.valid {
			t.Errorf("%q: expected valid=%v, got err=%v", tt.url, tt.valid, err)
		}
	}
}

func TestValidateTeamsWebhookURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://contoso.webhook.office.com/webhookb2/g@t/IncomingWebhook/abc/o", true},
		{"https://outlook.office.com/webhook/g@t/IncomingWebhook/abc/o", true},
		{"https://outlook.office365.com/webhook/g@t/IncomingWebhook/abc/o", true},
		{"https://outlook.office.com/webhook/g@t/Other/abc/o", false},
		{"https://outlook.office.com/hook/g@t/IncomingWebhook/abc/o", false},
		{"https://outlook.office.com/webhook/g@t/IncomingWebhook/abc", false},
		{"https://example.com/webhook/g@t/IncomingWebhook/abc/o", false},
	}
	for _, tt := range tests {
		if err := ValidateTeamsWebhookURL(tt.url); (err == nil) != tt.valid {
			t.Errorf("%q: expected valid=%v, got err=%v", tt.url, tt.valid, err)
		}
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	t.Run("posts Block Kit JSON", func(t *testing.T) {
		var got SlackMessage
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("invalid payload: %v", err)
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		n := NewSlackNotifier(WebhookConfig{AppBaseURL: testBaseURL})
		result, err := n.Send(context.Background(), entity.Credentials{WebhookURL: server.URL},
			entity.IntegrationEvent{Type: entity.EventProjectCreated}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success || result.StatusCode != http.StatusOK {
			t.Errorf("expected success 200, got %+v", result)
		}
		if len(got.Blocks) == 0 {
			t.Error("expected blocks in payload")
		}
	})

	t.Run("non-2xx includes body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("no_service"))
		}))
		defer server.Close()

		n := NewSlackNotifier(WebhookConfig{})
		result, err := n.Send(context.Background(), entity.Credentials{WebhookURL: server.URL},
			entity.IntegrationEvent{Type: entity.EventProjectCreated}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success || result.StatusCode != http.StatusNotFound {
			t.Errorf("expected failed 404, got %+v", result)
		}
		if !strings.Contains(result.Error, "no_service") {
			t.Errorf("expected body in error, got %q", result.Error)
		}
	})

	t.Run("unsubscribed event makes no request", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		n := NewSlackNotifier(WebhookConfig{})
		result, err := n.Send(context.Background(), entity.Credentials{WebhookURL: server.URL},
			entity.IntegrationEvent{Type: entity.EventProjectCreated}, &entity.Settings{Events: []string{"comment.added"}})
		if err != nil || !result.Success {
			t.Errorf("expected skipped success, got %+v %v", result, err)
		}
		if atomic.LoadInt32(&calls) != 0 {
			t.Errorf("expected no request, got %d", calls)
		}
	})

	t.Run("unreachable webhook does not leak the url path", func(t *testing.T) {
		n := NewSlackNotifier(WebhookConfig{Timeout: time.Second})
		result, err := n.Send(context.Background(), entity.Credentials{WebhookURL: "http://127.0.0.1:1/services/T/B/secret"},
			entity.IntegrationEvent{Type: entity.EventProjectCreated}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success {
			t.Fatal("expected failure")
		}
		if strings.Contains(result.Error, "secret") {
			t.Errorf("webhook path leaked into error: %q", result.Error)
		}
	})
}

func TestDiscordAndTeamsNotifier_Send(t *testing.T) {
	var lastBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	event := entity.IntegrationEvent{Type: entity.EventEventCreated, Data: map[string]any{"title": "Demo"}}
	creds := entity.Credentials{WebhookURL: server.URL}

	discord := NewDiscordNotifier(WebhookConfig{})
	result, err := discord.Send(context.Background(), creds, event, nil)
	if err != nil || !result.Success || result.StatusCode != http.StatusNoContent {
		t.Errorf("Discord: unexpected result %+v %v", result, err)
	}
	if body, _ := lastBody.Load().(string); !strings.Contains(body, `"embeds"`) {
		t.Errorf("Discord: unexpected body %s", body)
	}

	teams := NewTeamsNotifier(WebhookConfig{})
	result, err = teams.Send(context.Background(), creds, event, nil)
	if err != nil || !result.Success {
		t.Errorf("Teams: unexpected result %+v %v", result, err)
	}
	if body, _ := lastBody.Load().(string); !strings.Contains(body, "application/vnd.microsoft.card.adaptive") {
		t.Errorf("Teams: unexpected body %s", body)
	}

	if discord.Type() != entity.TypeDiscord || teams.Type() != entity.TypeTeams {
		t.Error("unexpected provider types")
	}
}

func TestWebhookSender_Test(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantSuccess bool
		wantMessage string
	}{
		{name: "success", status: http.StatusOK, wantSuccess: true, wantMessage: "réussie"},
		{name: "not found", status: http.StatusNotFound, wantMessage: "introuvable"},
		{name: "unauthorized", status: http.StatusUnauthorized, wantMessage: "non autorisé ou désactivé"},
		{name: "gone", status: http.StatusGone, wantMessage: "non autorisé ou désactivé"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantMessage: "Trop de requêtes"},
		{name: "other status", status: http.StatusInternalServerError, wantMessage: "statut 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sender := newWebhookSender("Slack", WebhookConfig{})
			result := sender.test(context.Background(), server.URL, renderSlack(testCard(), ""))
			if result.Success != tt.wantSuccess {
				t.Errorf("expected success=%v, got %+v", tt.wantSuccess, result)
			}
			if !strings.Contains(result.Message, tt.wantMessage) {
				t.Errorf("expected message containing %q, got %q", tt.wantMessage, result.Message)
			}
		})
	}

	t.Run("timeout has its own message", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		sender := newWebhookSender("Discord", WebhookConfig{Timeout: 50 * time.Millisecond})
		result := sender.test(context.Background(), server.URL, renderDiscord(testCard(), "", ""))
		if result.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(result.Message, "Délai d'attente dépassé") {
			t.Errorf("expected timeout message, got %q", result.Message)
		}
	})
}

func TestSlackNotifier_RateLimitPerWebhook(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	n := NewSlackNotifier(WebhookConfig{RateLimit: RateLimit{RequestsPerSecond: 1, Burst: 1}})
	event := entity.IntegrationEvent{Type: entity.EventProjectCreated}

	t.Run("tenants do not share a budget", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		for _, hook := range []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g", "/h"} {
			result, err := n.Send(ctx, entity.Credentials{WebhookURL: server.URL + hook}, event, nil)
			if err != nil || !result.Success {
				t.Errorf("%s: expected success, got %+v %v", hook, result, err)
			}
		}
	})

	t.Run("exhausted budget is throttled without a request", func(t *testing.T) {
		creds := entity.Credentials{WebhookURL: server.URL + "/busy"}
		if result, _ := n.Send(context.Background(), creds, event, nil); !result.Success {
			t.Fatalf("first send should pass: %+v", result)
		}
		before := atomic.LoadInt32(&calls)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		result, err := n.Send(ctx, creds, event, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success || !result.Throttled || result.StatusCode != 0 {
			t.Errorf("expected throttled failure, got %+v", result)
		}
		if got := atomic.LoadInt32(&calls); got != before {
			t.Errorf("expected no request, got %d new", got-before)
		}
	})
}

func TestWebhookSender_TestReportsThrottleAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := newWebhookSender("Slack", WebhookConfig{RateLimit: RateLimit{RequestsPerSecond: 1, Burst: 1}})
	if result := sender.test(context.Background(), server.URL, renderSlack(testCard(), "")); !result.Success {
		t.Fatalf("first test should pass: %+v", result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result := sender.test(ctx, server.URL, renderSlack(testCard(), ""))
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Message, "Délai d'attente dépassé") {
		t.Errorf("expected timeout message, got %q", result.Message)
	}
}

func TestWebhookNotifiers_TestConnectionRejectsInvalidURL(t *testing.T) {
	ctx := context.Background()
	creds := entity.Credentials{WebhookURL: "http://hooks.slack.com/services/T1/B1/X1"}

	for _, n := range []interface {
		TestConnection(context.Context, entity.Credentials) (entity.TestResult, error)
	}{
		NewSlackNotifier(WebhookConfig{}),
		NewDiscordNotifier(WebhookConfig{}),
		NewTeamsNotifier(WebhookConfig{}),
	} {
		result, err := n.TestConnection(ctx, creds)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Success || !strings.Contains(result.Message, "invalide") {
			t.Errorf("expected invalid URL result, got %+v", result)
		}
	}
}
