package notifier

import (
	"context"
	"fmt"
	"strings"

	"integration-hub/internal/domain/entity"
)

// SlackMessage is the JSON body posted to a Slack incoming webhook (Block Kit).
type SlackMessage struct {
	Text   string       `json:"text"`   // Fallback text shown in notifications
	Blocks []SlackBlock `json:"blocks"` // Rich formatting blocks
}

// SlackBlock is a Block Kit block: header, section, actions or context.
type SlackBlock struct {
	Type     string            `json:"type"`
	Text     *SlackTextObject  `json:"text,omitempty"`
	Fields   []SlackTextObject `json:"fields,omitempty"`
	Elements []any             `json:"elements,omitempty"`
}

// SlackTextObject is a mrkdwn or plain_text object.
type SlackTextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackButton is a link button inside an actions block.
type SlackButton struct {
	Type string          `json:"type"`
	Text SlackTextObject `json:"text"`
	URL  string          `json:"url"`
}

const (
	// Block Kit limits
	maxSlackHeaderLength  = 150
	maxSlackSectionLength = 3000
	maxSlackFieldLength   = 2000
)

// FormatSlack renders event as a Block Kit message. It returns nil when
// settings are given and do not subscribe to the event type.
func FormatSlack(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *SlackMessage {
	if !subscribed(event, settings) {
		return nil
	}
	msg := renderSlack(buildCard(event, baseURL), string(event.Type))
	return &msg
}

func renderSlack(card eventCard, eventType string) SlackMessage {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObject{Type: "plain_text", Text: truncateText(card.Title, maxSlackHeaderLength, truncationSuffix)},
		},
		{
			Type: "section",
			Text: &SlackTextObject{Type: "mrkdwn", Text: truncateText(card.Summary, maxSlackSectionLength, truncationSuffix)},
		},
	}

	if len(card.Fields) > 0 {
		fields := make([]SlackTextObject, 0, len(card.Fields))
		for _, f := range card.Fields {
			fields = append(fields, SlackTextObject{
				Type: "mrkdwn",
				Text: truncateText(fmt.Sprintf("*%s*\n%s", f.Label, f.Value), maxSlackFieldLength, truncationSuffix),
			})
		}
		blocks = append(blocks, SlackBlock{Type: "section", Fields: fields})
	}

	if card.Quote != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObject{Type: "mrkdwn", Text: "> " + strings.ReplaceAll(card.Quote, "\n", "\n> ")},
		})
	}

	if card.Link != "" {
		blocks = append(blocks, SlackBlock{
			Type: "actions",
			Elements: []any{SlackButton{
				Type: "button",
				Text: SlackTextObject{Type: "plain_text", Text: "Voir dans l'application"},
				URL:  card.Link,
			}},
		})
	}

	if eventType != "" {
		blocks = append(blocks, SlackBlock{
			Type:     "context",
			Elements: []any{SlackTextObject{Type: "mrkdwn", Text: "Événement : `" + eventType + "`"}},
		})
	}

	return SlackMessage{
		Text:   card.Title + " - " + card.Summary,
		Blocks: blocks,
	}
}

// SlackNotifier delivers events to a Slack incoming webhook.
type SlackNotifier struct {
	config WebhookConfig
	sender webhookSender
}

// NewSlackNotifier creates a SlackNotifier. Slack allows about one
// message per second per webhook.
func NewSlackNotifier(config WebhookConfig) *SlackNotifier {
	return &SlackNotifier{
		config: config,
		sender: newWebhookSender("Slack", config),
	}
}

// Type implements the provider contract.
func (s *SlackNotifier) Type() entity.IntegrationType {
	return entity.TypeSlack
}

// Send formats event and posts it to the webhook.
func (s *SlackNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	msg := FormatSlack(event, settings, s.config.AppBaseURL)
	if msg == nil {
		return entity.Skipped(), nil
	}
	return s.sender.send(ctx, creds.WebhookURL, msg), nil
}

// TestConnection validates the webhook URL and posts a test message.
func (s *SlackNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	if err := ValidateSlackWebhookURL(creds.WebhookURL); err != nil {
		return invalidURLResult("Slack", "https://hooks.slack.com/services/T.../B.../...", err), nil
	}
	return s.sender.test(ctx, creds.WebhookURL, renderSlack(testCard(), "")), nil
}
