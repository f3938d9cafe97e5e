package notifier

import (
	"context"

	"integration-hub/internal/domain/entity"
)

// TeamsMessage is the JSON body posted to a Teams incoming webhook.
type TeamsMessage struct {
	Type        string            `json:"type"`
	Attachments []TeamsAttachment `json:"attachments"`
}

// TeamsAttachment wraps an Adaptive Card.
type TeamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     AdaptiveCard `json:"content"`
}

// AdaptiveCard is the subset of the Adaptive Card 1.4 schema we render.
type AdaptiveCard struct {
	Schema  string           `json:"$schema"`
	Type    string           `json:"type"`
	Version string           `json:"version"`
	Body    []map[string]any `json:"body"`
	Actions []map[string]any `json:"actions,omitempty"`
	MSTeams map[string]any   `json:"msteams,omitempty"`
}

const (
	adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"
	adaptiveCardSchema      = "http://adaptivecards.io/schemas/adaptive-card.json"
	adaptiveCardVersion     = "1.4"
)

// FormatTeams renders event as an Adaptive Card message. It returns nil
// when settings are given and do not subscribe to the event type.
func FormatTeams(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *TeamsMessage {
	if !subscribed(event, settings) {
		return nil
	}
	msg := renderTeams(buildCard(event, baseURL), string(event.Type))
	return &msg
}

func renderTeams(card eventCard, eventType string) TeamsMessage {
	body := []map[string]any{
		{
			"type":   "TextBlock",
			"text":   card.Title,
			"size":   "Large",
			"weight": "Bolder",
			"wrap":   true,
		},
		{
			"type": "TextBlock",
			"text": card.Summary,
			"wrap": true,
		},
	}

	if len(card.Fields) > 0 {
		facts := make([]map[string]any, 0, len(card.Fields))
		for _, f := range card.Fields {
			facts = append(facts, map[string]any{"title": f.Label, "value": f.Value})
		}
		body = append(body, map[string]any{"type": "FactSet", "facts": facts})
	}

	if card.Quote != "" {
		body = append(body, map[string]any{
			"type":     "TextBlock",
			"text":     card.Quote,
			"wrap":     true,
			"isSubtle": true,
			"style":    "emphasis",
		})
	}

	if eventType != "" {
		body = append(body, map[string]any{
			"type":     "TextBlock",
			"text":     "Événement : " + eventType,
			"size":     "Small",
			"isSubtle": true,
		})
	}

	content := AdaptiveCard{
		Schema:  adaptiveCardSchema,
		Type:    "AdaptiveCard",
		Version: adaptiveCardVersion,
		Body:    body,
		MSTeams: map[string]any{"width": "Full"},
	}
	if card.Link != "" {
		content.Actions = []map[string]any{{
			"type":  "Action.OpenUrl",
			"title": "Voir dans l'application",
			"url":   card.Link,
		}}
	}

	return TeamsMessage{
		Type: "message",
		Attachments: []TeamsAttachment{{
			ContentType: adaptiveCardContentType,
			Content:     content,
		}},
	}
}

// TeamsNotifier delivers events to a Microsoft Teams incoming webhook.
type TeamsNotifier struct {
	config WebhookConfig
	sender webhookSender
}

// NewTeamsNotifier creates a TeamsNotifier.
func NewTeamsNotifier(config WebhookConfig) *TeamsNotifier {
	return &TeamsNotifier{
		config: config,
		sender: newWebhookSender("Teams", config),
	}
}

// Type implements the provider contract.
func (t *TeamsNotifier) Type() entity.IntegrationType {
	return entity.TypeTeams
}

// Send formats event and posts it to the webhook.
func (t *TeamsNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	msg := FormatTeams(event, settings, t.config.AppBaseURL)
	if msg == nil {
		return entity.Skipped(), nil
	}
	return t.sender.send(ctx, creds.WebhookURL, msg), nil
}

// TestConnection validates the webhook URL and posts a test card.
func (t *TeamsNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	if err := ValidateTeamsWebhookURL(creds.WebhookURL); err != nil {
		return invalidURLResult("Teams", "https://{tenant}.webhook.office.com/webhookb2/{id}/IncomingWebhook/{id}/{id}", err), nil
	}
	return t.sender.test(ctx, creds.WebhookURL, renderTeams(testCard(), "")), nil
}
