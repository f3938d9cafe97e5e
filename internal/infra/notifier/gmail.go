package notifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"net/http"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
)

// ErrNoRecipients is returned when neither settings nor the Gmail profile
// yield a recipient address.
var ErrNoRecipients = errors.New("gmail: no recipient")

// Email is a rendered notification email.
type Email struct {
	Subject  string
	HTMLBody string
}

// GmailSendRequest is the users.messages.send body.
type GmailSendRequest struct {
	Raw string `json:"raw"`
}

// FormatEmail renders event as an HTML email. Unknown types return nil.
func FormatEmail(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *Email {
	if !subscribed(event, settings) {
		return nil
	}
	build, ok := cardBuilders[event.Type]
	if !ok {
		return nil
	}
	card := build(event, baseURL)

	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;font-size:14px;color:#1f2933">`)
	fmt.Fprintf(&b, `<h2 style="margin:0 0 12px">%s</h2>`, html.EscapeString(card.Title))
	fmt.Fprintf(&b, `<p>%s</p>`, html.EscapeString(card.Summary))
	if len(card.Fields) > 0 {
		b.WriteString(`<table cellpadding="4" style="border-collapse:collapse">`)
		for _, f := range card.Fields {
			fmt.Fprintf(&b, `<tr><td style="color:#52606d"><strong>%s</strong></td><td>%s</td></tr>`,
				html.EscapeString(f.Label), html.EscapeString(f.Value))
		}
		b.WriteString(`</table>`)
	}
	if card.Quote != "" {
		fmt.Fprintf(&b, `<blockquote style="border-left:3px solid #cbd2d9;margin:12px 0;padding-left:12px">%s</blockquote>`,
			html.EscapeString(card.Quote))
	}
	if card.Link != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Voir dans l'application</a></p>`, html.EscapeString(card.Link))
	}
	b.WriteString(`</div>`)

	return &Email{Subject: card.Title, HTMLBody: b.String()}
}

// buildRawMessage encodes an RFC 2822 message as base64url for the Gmail API.
func buildRawMessage(to []string, email *Email) string {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, stripHeaderBreaks(addr))
	}

	var b strings.Builder
	b.WriteString("To: " + strings.Join(recipients, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", stripHeaderBreaks(email.Subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(email.HTMLBody)))

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

func stripHeaderBreaks(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// GmailNotifier sends notification emails from the connected account.
type GmailNotifier struct {
	config    GoogleConfig
	client    restClient
	refresher tokenRefresher
}

// NewGmailNotifier creates a GmailNotifier. A failed token refresh aborts
// the call.
func NewGmailNotifier(config GoogleConfig) *GmailNotifier {
	config = config.withDefaults()
	return &GmailNotifier{
		config:    config,
		client:    newRESTClient("Gmail", config.Timeout, config.RateLimit),
		refresher: newTokenRefresher("Gmail", config, RefreshStrict),
	}
}

// Type implements the provider contract.
func (g *GmailNotifier) Type() entity.IntegrationType {
	return entity.TypeGmail
}

type gmailProfile struct {
	EmailAddress string `json:"emailAddress"`
}

func (g *GmailNotifier) profile(ctx context.Context, creds entity.Credentials) (gmailProfile, error) {
	var p gmailProfile
	_, err := g.client.do(ctx, limitKey(creds), http.MethodGet, g.config.GmailAPIURL+"/users/me/profile", creds.AccessToken, nil, &p)
	return p, err
}

// Send emails the configured recipients, or the account owner when none
// are configured.
func (g *GmailNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	email := FormatEmail(event, settings, g.config.AppBaseURL)
	if email == nil {
		return entity.Skipped(), nil
	}

	started := time.Now()
	creds, refreshed, err := g.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.SendResult{}, err
	}

	var recipients []string
	if settings != nil {
		recipients = settings.Recipients
	}
	if len(recipients) == 0 {
		p, err := g.profile(ctx, creds)
		if err != nil {
			result := failedResult(err, started)
			result.RefreshedCredentials = refreshedPtr(creds, refreshed)
			return result, nil
		}
		if p.EmailAddress == "" {
			return entity.SendResult{RefreshedCredentials: refreshedPtr(creds, refreshed)}, ErrNoRecipients
		}
		recipients = []string{p.EmailAddress}
	}

	body := GmailSendRequest{Raw: buildRawMessage(recipients, email)}
	status, err := g.client.do(ctx, limitKey(creds), http.MethodPost, g.config.GmailAPIURL+"/users/me/messages/send", creds.AccessToken, body, nil)
	var result entity.SendResult
	if err != nil {
		result = failedResult(err, started)
	} else {
		result = succeededResult(status, started)
	}
	result.RefreshedCredentials = refreshedPtr(creds, refreshed)
	return result, nil
}

// TestConnection reads the Gmail profile.
func (g *GmailNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	creds, refreshed, err := g.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.TestResult{}, err
	}

	p, err := g.profile(ctx, creds)
	if err != nil {
		result := oauthTestFailure("Gmail", err)
		result.RefreshedCredentials = refreshedPtr(creds, refreshed)
		return result, nil
	}

	return entity.TestResult{
		Success:              true,
		Message:              "Connexion à Gmail réussie.",
		Details:              "Connecté en tant que " + p.EmailAddress,
		RefreshedCredentials: refreshedPtr(creds, refreshed),
	}, nil
}
