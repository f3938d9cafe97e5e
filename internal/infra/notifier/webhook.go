package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
)

// ErrInvalidWebhookURL is returned when a webhook URL does not match the
// provider's known shape.
var ErrInvalidWebhookURL = errors.New("invalid webhook url")

// WebhookConfig configures the Slack, Discord and Teams notifiers.
type WebhookConfig struct {
	// AppBaseURL prefixes deep links back into the application.
	AppBaseURL string

	// Timeout is the shared request budget of every webhook POST.
	Timeout time.Duration

	RateLimit RateLimit
}

// webhookSender posts JSON payloads to an incoming webhook.
type webhookSender struct {
	provider    string
	httpClient  *http.Client
	rateLimiter *KeyedRateLimiter
}

func newWebhookSender(provider string, cfg WebhookConfig) webhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return webhookSender{
		provider:    provider,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: newLimiter(cfg.RateLimit),
	}
}

// post sends payload and returns the response status. Non-2xx statuses are
// returned as typed errors that include the response body.
func (w webhookSender) post(ctx context.Context, webhookURL string, payload any) (int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	if err := w.rateLimiter.Allow(ctx, webhookURL); err != nil {
		return 0, transportError(w.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, transportError(w.provider, redactWebhookURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, statusError(w.provider, resp, body)
}

// redactWebhookURL keeps only scheme and host of a *url.Error, since the
// webhook path is the secret.
func redactWebhookURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if u, parseErr := url.Parse(urlErr.URL); parseErr == nil && u.Host != "" {
		urlErr.URL = u.Scheme + "://" + u.Host + "/..."
	} else {
		urlErr.URL = "[redacted]"
	}
	return err
}

// send posts payload and normalizes the outcome.
func (w webhookSender) send(ctx context.Context, webhookURL string, payload any) entity.SendResult {
	started := time.Now()
	status, err := w.post(ctx, webhookURL, payload)
	if err != nil {
		result := failedResult(err, started)
		if result.StatusCode == 0 {
			result.StatusCode = status
		}
		return result
	}
	return succeededResult(status, started)
}

// test posts a test payload and maps the outcome to a user-facing message.
func (w webhookSender) test(ctx context.Context, webhookURL string, payload any) entity.TestResult {
	_, err := w.post(ctx, webhookURL, payload)
	return webhookTestResult(w.provider, err)
}

// webhookTestResult maps a webhook POST outcome to French diagnostics.
func webhookTestResult(provider string, err error) entity.TestResult {
	if err == nil {
		return entity.TestResult{
			Success: true,
			Message: fmt.Sprintf("Connexion à %s réussie. Un message de test a été envoyé.", provider),
		}
	}

	if isTimeout(err) {
		return entity.TestResult{
			Message: fmt.Sprintf("Délai d'attente dépassé lors de la connexion à %s.", provider),
			Details: err.Error(),
		}
	}

	switch status := statusCodeOf(err); status {
	case 0:
		return entity.TestResult{
			Message: fmt.Sprintf("Impossible de joindre %s.", provider),
			Details: err.Error(),
		}
	case http.StatusNotFound:
		return entity.TestResult{
			Message: fmt.Sprintf("Webhook %s introuvable. Il a peut-être été supprimé, veuillez en créer un nouveau.", provider),
			Details: err.Error(),
		}
	case http.StatusUnauthorized, http.StatusGone:
		return entity.TestResult{
			Message: fmt.Sprintf("Webhook %s non autorisé ou désactivé.", provider),
			Details: err.Error(),
		}
	case http.StatusTooManyRequests:
		return entity.TestResult{
			Message: fmt.Sprintf("Trop de requêtes vers %s. Veuillez réessayer plus tard.", provider),
			Details: err.Error(),
		}
	default:
		return entity.TestResult{
			Message: fmt.Sprintf("Erreur %s : statut %d.", provider, status),
			Details: err.Error(),
		}
	}
}

// invalidURLResult is returned by TestConnection before any network call.
func invalidURLResult(provider, expected string, err error) entity.TestResult {
	return entity.TestResult{
		Message: fmt.Sprintf("URL de webhook %s invalide.", provider),
		Details: fmt.Sprintf("%v. Format attendu : %s", err, expected),
	}
}

// parseWebhookURL checks the scheme and returns host and path segments.
func parseWebhookURL(raw string) (string, []string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: scheme must be https", ErrInvalidWebhookURL)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", nil, fmt.Errorf("%w: empty path", ErrInvalidWebhookURL)
	}
	return strings.ToLower(u.Hostname()), strings.Split(path, "/"), nil
}

func requireSegments(segments []string, want int) error {
	if len(segments) != want {
		return fmt.Errorf("%w: expected %d path segments, got %d", ErrInvalidWebhookURL, want, len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: empty path segment", ErrInvalidWebhookURL)
		}
	}
	return nil
}

// ValidateSlackWebhookURL accepts https://hooks.slack.com/services/{T}/{B}/{X}.
func ValidateSlackWebhookURL(raw string) error {
	host, segments, err := parseWebhookURL(raw)
	if err != nil {
		return err
	}
	if host != "hooks.slack.com" {
		return fmt.Errorf("%w: unexpected host %q", ErrInvalidWebhookURL, host)
	}
	if err := requireSegments(segments, 4); err != nil {
		return err
	}
	if segments[0] != "services" {
		return fmt.Errorf("%w: path must start with /services", ErrInvalidWebhookURL)
	}
	return nil
}

// ValidateDiscordWebhookURL accepts https://discord.com/api/webhooks/{id}/{token}
// and the legacy discordapp.com host.
func ValidateDiscordWebhookURL(raw string) error {
	host, segments, err := parseWebhookURL(raw)
	if err != nil {
		return err
	}
	if host != "discord.com" && host != "discordapp.com" {
		return fmt.Errorf("%w: unexpected host %q", ErrInvalidWebhookURL, host)
	}
	if err := requireSegments(segments, 4); err != nil {
		return err
	}
	if segments[0] != "api" || segments[1] != "webhooks" {
		return fmt.Errorf("%w: path must start with /api/webhooks", ErrInvalidWebhookURL)
	}
	for _, r := range segments[2] {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: webhook id must be numeric", ErrInvalidWebhookURL)
		}
	}
	return nil
}

// ValidateTeamsWebhookURL accepts Office 365 connector URLs of the form
// https://{outlook.office.com|outlook.office365.com|*.webhook.office.com}/webhook{b2}/{group}/IncomingWebhook/{id}/{owner}.
func ValidateTeamsWebhookURL(raw string) error {
	host, segments, err := parseWebhookURL(raw)
	if err != nil {
		return err
	}
	if host != "outlook.office.com" && host != "outlook.office365.com" && !strings.HasSuffix(host, ".webhook.office.com") {
		return fmt.Errorf("%w: unexpected host %q", ErrInvalidWebhookURL, host)
	}
	if err := requireSegments(segments, 5); err != nil {
		return err
	}
	if segments[0] != "webhook" && segments[0] != "webhookb2" {
		return fmt.Errorf("%w: path must start with /webhook", ErrInvalidWebhookURL)
	}
	if segments[2] != "IncomingWebhook" {
		return fmt.Errorf("%w: missing IncomingWebhook segment", ErrInvalidWebhookURL)
	}
	return nil
}

// testCard is the payload rendered by every webhook TestConnection.
func testCard() eventCard {
	return eventCard{
		Title:   "Test de connexion",
		Summary: "Cette intégration est correctement configurée et recevra vos notifications.",
		Color:   colorGeneric,
	}
}
