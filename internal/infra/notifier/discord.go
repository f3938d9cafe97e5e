package notifier

import (
	"context"

	"integration-hub/internal/domain/entity"
)

// DiscordMessage is the JSON body posted to a Discord webhook.
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents a Discord embed message.
type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// DiscordEmbedField is a name/value pair inside an embed.
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

const (
	// Discord limits
	maxDiscordTitleLength       = 256
	maxDiscordDescriptionLength = 4096
	maxDiscordFieldValueLength  = 1024
	maxDiscordFields            = 25
)

// FormatDiscord renders event as a single embed. It returns nil when
// settings are given and do not subscribe to the event type.
func FormatDiscord(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *DiscordMessage {
	if !subscribed(event, settings) {
		return nil
	}
	msg := renderDiscord(buildCard(event, baseURL), string(event.Type), event.String("createdAt"))
	return &msg
}

func renderDiscord(card eventCard, eventType, timestamp string) DiscordMessage {
	description := card.Summary
	if card.Quote != "" {
		description += "\n\n> " + card.Quote
	}

	embed := DiscordEmbed{
		Title:       truncateText(card.Title, maxDiscordTitleLength, ""),
		Description: truncateText(description, maxDiscordDescriptionLength, truncationSuffix),
		URL:         card.Link,
		Color:       card.Color,
		Timestamp:   timestamp,
	}

	for i, f := range card.Fields {
		if i == maxDiscordFields {
			break
		}
		embed.Fields = append(embed.Fields, DiscordEmbedField{
			Name:   f.Label,
			Value:  truncateText(f.Value, maxDiscordFieldValueLength, truncationSuffix),
			Inline: f.Inline,
		})
	}

	if eventType != "" {
		embed.Footer = &DiscordEmbedFooter{Text: eventType}
	}

	return DiscordMessage{Embeds: []DiscordEmbed{embed}}
}

// DiscordNotifier delivers events to a Discord webhook.
type DiscordNotifier struct {
	config WebhookConfig
	sender webhookSender
}

// NewDiscordNotifier creates a DiscordNotifier. Discord allows 30
// requests per minute per webhook.
func NewDiscordNotifier(config WebhookConfig) *DiscordNotifier {
	return &DiscordNotifier{
		config: config,
		sender: newWebhookSender("Discord", config),
	}
}

// Type implements the provider contract.
func (d *DiscordNotifier) Type() entity.IntegrationType {
	return entity.TypeDiscord
}

// Send formats event and posts it to the webhook.
func (d *DiscordNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	msg := FormatDiscord(event, settings, d.config.AppBaseURL)
	if msg == nil {
		return entity.Skipped(), nil
	}
	return d.sender.send(ctx, creds.WebhookURL, msg), nil
}

// TestConnection validates the webhook URL and posts a test embed.
func (d *DiscordNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	if err := ValidateDiscordWebhookURL(creds.WebhookURL); err != nil {
		return invalidURLResult("Discord", "https://discord.com/api/webhooks/{id}/{token}", err), nil
	}
	return d.sender.test(ctx, creds.WebhookURL, renderDiscord(testCard(), "", "")), nil
}
