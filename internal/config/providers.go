package config

import (
	"fmt"
	"os"

	"integration-hub/internal/infra/notifier"

	"gopkg.in/yaml.v3"
)

// WebhookProviderConfig overrides one webhook provider.
type WebhookProviderConfig struct {
	RateLimit notifier.RateLimit `yaml:"rate_limit"`
}

// GoogleProviderConfig overrides the Google endpoints shared by Calendar,
// Drive and Gmail.
type GoogleProviderConfig struct {
	TokenURL       string             `yaml:"token_url"`
	CalendarAPIURL string             `yaml:"calendar_api_url"`
	DriveAPIURL    string             `yaml:"drive_api_url"`
	GmailAPIURL    string             `yaml:"gmail_api_url"`
	RateLimit      notifier.RateLimit `yaml:"rate_limit"`
}

// TrelloProviderConfig overrides the Trello endpoint.
type TrelloProviderConfig struct {
	APIURL    string             `yaml:"api_url"`
	RateLimit notifier.RateLimit `yaml:"rate_limit"`
}

// ProvidersConfig is the document read from PROVIDERS_CONFIG.
//
//	providers:
//	  discord:
//	    rate_limit: {requests_per_second: 0.5, burst: 3}
//	  trello:
//	    api_url: https://api.trello.com/1
type ProvidersConfig struct {
	Slack   WebhookProviderConfig `yaml:"slack"`
	Discord WebhookProviderConfig `yaml:"discord"`
	Teams   WebhookProviderConfig `yaml:"teams"`
	Google  GoogleProviderConfig  `yaml:"google"`
	Trello  TrelloProviderConfig  `yaml:"trello"`
}

type providersFile struct {
	Providers ProvidersConfig `yaml:"providers"`
}

// DefaultProvidersConfig returns the built-in endpoints and rate limits.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Slack:   WebhookProviderConfig{RateLimit: notifier.DefaultSlackRateLimit},
		Discord: WebhookProviderConfig{RateLimit: notifier.DefaultDiscordRateLimit},
		Teams:   WebhookProviderConfig{RateLimit: notifier.DefaultTeamsRateLimit},
		Google: GoogleProviderConfig{
			TokenURL:       notifier.DefaultGoogleTokenURL,
			CalendarAPIURL: notifier.DefaultCalendarAPIURL,
			DriveAPIURL:    notifier.DefaultDriveAPIURL,
			GmailAPIURL:    notifier.DefaultGmailAPIURL,
			RateLimit:      notifier.DefaultGoogleRateLimit,
		},
		Trello: TrelloProviderConfig{
			APIURL:    notifier.DefaultTrelloAPIURL,
			RateLimit: notifier.DefaultTrelloRateLimit,
		},
	}
}

// LoadProvidersConfig reads path over the defaults. An empty path returns
// the defaults. Keys absent from the file keep their default value.
// The path comes from the operator environment, not from user input.
func LoadProvidersConfig(path string) (ProvidersConfig, error) {
	file := providersFile{Providers: DefaultProvidersConfig()}
	if path == "" {
		return file.Providers, nil
	}

	// #nosec G304 -- path is provided by the operator environment
	data, err := os.ReadFile(path)
	if err != nil {
		return ProvidersConfig{}, fmt.Errorf("failed to read providers config: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ProvidersConfig{}, fmt.Errorf("failed to parse providers config: %w", err)
	}
	if err := file.Providers.Validate(); err != nil {
		return ProvidersConfig{}, fmt.Errorf("providers config validation failed: %w", err)
	}
	return file.Providers, nil
}

// Validate rejects negative budgets.
func (p ProvidersConfig) Validate() error {
	limits := map[string]notifier.RateLimit{
		"slack":   p.Slack.RateLimit,
		"discord": p.Discord.RateLimit,
		"teams":   p.Teams.RateLimit,
		"google":  p.Google.RateLimit,
		"trello":  p.Trello.RateLimit,
	}
	for name, limit := range limits {
		if limit.RequestsPerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("%s: rate_limit must not be negative", name)
		}
	}
	return nil
}
