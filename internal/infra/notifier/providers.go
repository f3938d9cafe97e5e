package notifier

import (
	"context"

	"integration-hub/internal/domain/entity"
)

// Notifier is implemented by every provider in this package.
type Notifier interface {
	Type() entity.IntegrationType
	Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error)
	TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error)
}

// Default outbound budgets per credential.
var (
	DefaultSlackRateLimit   = RateLimit{RequestsPerSecond: 1, Burst: 1}
	DefaultDiscordRateLimit = RateLimit{RequestsPerSecond: 0.5, Burst: 3}
	DefaultTeamsRateLimit   = RateLimit{RequestsPerSecond: 1, Burst: 1}
	DefaultGoogleRateLimit  = RateLimit{RequestsPerSecond: 5, Burst: 5}
	DefaultTrelloRateLimit  = RateLimit{RequestsPerSecond: 10, Burst: 10}
)

// Config assembles the configuration of every provider.
type Config struct {
	Slack   WebhookConfig
	Discord WebhookConfig
	Teams   WebhookConfig
	Google  GoogleConfig
	Trello  TrelloConfig
}

// NewAll builds one notifier per supported integration type.
func NewAll(cfg Config) []Notifier {
	return []Notifier{
		NewSlackNotifier(cfg.Slack),
		NewDiscordNotifier(cfg.Discord),
		NewTeamsNotifier(cfg.Teams),
		NewCalendarNotifier(cfg.Google),
		NewDriveNotifier(cfg.Google),
		NewGmailNotifier(cfg.Google),
		NewTrelloNotifier(cfg.Trello),
	}
}
