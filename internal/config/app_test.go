package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"integration-hub/internal/infra/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validKey = strings.Repeat("0f", 32)

func TestLoadAppConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://hub@localhost/hub")
	t.Setenv("CREDENTIALS_KEY", validKey)

	cfg, err := LoadAppConfig(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.AppBaseURL)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10*time.Second, cfg.ProviderHTTPTimeout)
	assert.Equal(t, 10, cfg.NotifyMaxConcurrent)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 9090, cfg.MetricsPort)
}

func TestLoadAppConfig_InvalidTunablesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://hub@localhost/hub")
	t.Setenv("CREDENTIALS_KEY", validKey)
	t.Setenv("APP_BASE_URL", "not a url")
	t.Setenv("WEBHOOK_TIMEOUT", "2h")
	t.Setenv("NOTIFY_MAX_CONCURRENT", "0")
	t.Setenv("PROVIDER_HTTP_TIMEOUT", "15s")

	cfg, err := LoadAppConfig(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.AppBaseURL)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10, cfg.NotifyMaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.ProviderHTTPTimeout)
}

func TestLoadAppConfig_RequiredSettings(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		key     string
		wantErr error
	}{
		{"missing database url", "", validKey, ErrMissingDatabaseURL},
		{"missing key", "postgres://x", "", ErrMissingCredentialsKey},
		{"short key", "postgres://x", "abcd", ErrInvalidCredentialsKey},
		{"non hex key", "postgres://x", strings.Repeat("zz", 32), ErrInvalidCredentialsKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", tt.dsn)
			t.Setenv("CREDENTIALS_KEY", tt.key)

			_, err := LoadAppConfig(nil, nil)
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}

func TestAppConfig_NotifierConfig(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.AppBaseURL = "https://app.example.com"
	cfg.GoogleClientID = "client"
	cfg.GoogleClientSecret = "secret"
	cfg.WebhookTimeout = 5 * time.Second

	nc := cfg.NotifierConfig(DefaultProvidersConfig())

	assert.Equal(t, "https://app.example.com", nc.Slack.AppBaseURL)
	assert.Equal(t, 5*time.Second, nc.Discord.Timeout)
	assert.Equal(t, notifier.DefaultDiscordRateLimit, nc.Discord.RateLimit)
	assert.Equal(t, "client", nc.Google.ClientID)
	assert.Equal(t, notifier.DefaultGoogleTokenURL, nc.Google.TokenURL)
	assert.Equal(t, notifier.DefaultTrelloAPIURL, nc.Trello.APIURL)
	assert.Equal(t, 10*time.Second, nc.Trello.Timeout)
}
