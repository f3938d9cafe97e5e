// Package config loads the runtime configuration of the API and worker
// processes from the environment and an optional provider YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	pkgconfig "integration-hub/internal/pkg/config"
	"integration-hub/internal/infra/notifier"
)

// CredentialsKeySize is the length in bytes of CREDENTIALS_KEY once hex-decoded.
const CredentialsKeySize = 32

// Sentinel errors for required settings. These are not subject to fallback.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingCredentialsKey = errors.New("CREDENTIALS_KEY is required")
	ErrInvalidCredentialsKey = errors.New("CREDENTIALS_KEY must be 64 hex characters")
)

// AppConfig is shared by the API and worker processes.
type AppConfig struct {
	DatabaseURL    string
	CredentialsKey string

	// JWTSecret signs the service tokens the API accepts. Only the API
	// process requires it.
	JWTSecret string

	// AppBaseURL prefixes deep links in notifications.
	AppBaseURL string

	GoogleClientID     string
	GoogleClientSecret string

	WebhookTimeout      time.Duration
	ProviderHTTPTimeout time.Duration
	NotifyMaxConcurrent int
	NotifySendTimeout   time.Duration

	HTTPAddr    string
	MetricsPort int

	// ProvidersConfigPath points at an optional YAML override of provider
	// endpoints and rate limits.
	ProvidersConfigPath string
}

// DefaultAppConfig returns the defaults applied when a variable is unset.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		AppBaseURL:          "http://localhost:3000",
		WebhookTimeout:      notifier.DefaultTimeout,
		ProviderHTTPTimeout: notifier.DefaultTimeout,
		NotifyMaxConcurrent: 10,
		NotifySendTimeout:   30 * time.Second,
		HTTPAddr:            ":8080",
		MetricsPort:         9090,
	}
}

// LoadAppConfig reads AppConfig from the environment. Tunables fall back to
// their default with a warning; secrets and the database URL are required
// and their absence is an error.
func LoadAppConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	l := pkgconfig.NewLoader(logger, metrics)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.CredentialsKey = os.Getenv("CREDENTIALS_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.ProvidersConfigPath = os.Getenv("PROVIDERS_CONFIG")
	cfg.HTTPAddr = pkgconfig.LoadEnvString("HTTP_ADDR", cfg.HTTPAddr)

	cfg.AppBaseURL = l.String("app_base_url", "APP_BASE_URL", cfg.AppBaseURL, pkgconfig.ValidateAbsoluteURL)
	cfg.WebhookTimeout = l.Duration("webhook_timeout", "WEBHOOK_TIMEOUT", cfg.WebhookTimeout, func(d time.Duration) error {
		return pkgconfig.ValidateDuration(d, time.Second, time.Minute)
	})
	cfg.ProviderHTTPTimeout = l.Duration("provider_http_timeout", "PROVIDER_HTTP_TIMEOUT", cfg.ProviderHTTPTimeout, func(d time.Duration) error {
		return pkgconfig.ValidateDuration(d, time.Second, time.Minute)
	})
	cfg.NotifyMaxConcurrent = l.Int("notify_max_concurrent", "NOTIFY_MAX_CONCURRENT", cfg.NotifyMaxConcurrent, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 100)
	})
	cfg.NotifySendTimeout = l.Duration("notify_send_timeout", "NOTIFY_SEND_TIMEOUT", cfg.NotifySendTimeout, func(d time.Duration) error {
		return pkgconfig.ValidateDuration(d, time.Second, 5*time.Minute)
	})
	cfg.MetricsPort = l.Int("metrics_port", "METRICS_PORT", cfg.MetricsPort, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1024, 65535)
	})
	l.Finish()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	switch {
	case c.CredentialsKey == "":
		errs = append(errs, ErrMissingCredentialsKey)
	case pkgconfig.ValidateHexKey(c.CredentialsKey, CredentialsKeySize) != nil:
		errs = append(errs, ErrInvalidCredentialsKey)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NotifierConfig combines the environment settings with provider overrides.
func (c *AppConfig) NotifierConfig(providers ProvidersConfig) notifier.Config {
	webhook := func(limit notifier.RateLimit) notifier.WebhookConfig {
		return notifier.WebhookConfig{AppBaseURL: c.AppBaseURL, Timeout: c.WebhookTimeout, RateLimit: limit}
	}
	return notifier.Config{
		Slack:   webhook(providers.Slack.RateLimit),
		Discord: webhook(providers.Discord.RateLimit),
		Teams:   webhook(providers.Teams.RateLimit),
		Google: notifier.GoogleConfig{
			AppBaseURL:     c.AppBaseURL,
			ClientID:       c.GoogleClientID,
			ClientSecret:   c.GoogleClientSecret,
			TokenURL:       providers.Google.TokenURL,
			CalendarAPIURL: providers.Google.CalendarAPIURL,
			DriveAPIURL:    providers.Google.DriveAPIURL,
			GmailAPIURL:    providers.Google.GmailAPIURL,
			Timeout:        c.ProviderHTTPTimeout,
			RateLimit:      providers.Google.RateLimit,
		},
		Trello: notifier.TrelloConfig{
			AppBaseURL: c.AppBaseURL,
			APIURL:     providers.Trello.APIURL,
			Timeout:    c.ProviderHTTPTimeout,
			RateLimit:  providers.Trello.RateLimit,
		},
	}
}
