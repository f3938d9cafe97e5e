package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
)

// Google API endpoints.
const (
	DefaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
	DefaultCalendarAPIURL = "https://www.googleapis.com/calendar/v3"
	DefaultDriveAPIURL    = "https://www.googleapis.com/drive/v3"
	DefaultGmailAPIURL    = "https://gmail.googleapis.com/gmail/v1"
)

// tokenRefreshWindow is how close to expiry an access token gets refreshed.
const tokenRefreshWindow = 5 * time.Minute

// ErrTokenRefresh is returned when a strict provider cannot refresh its
// access token.
var ErrTokenRefresh = errors.New("oauth token refresh failed")

// RefreshPolicy decides what happens when a token refresh fails.
type RefreshPolicy int

const (
	// RefreshStrict aborts the operation with ErrTokenRefresh.
	RefreshStrict RefreshPolicy = iota
	// RefreshLenient keeps the stale token and lets the API call fail.
	RefreshLenient
)

// GoogleConfig configures the Google Calendar, Drive and Gmail notifiers.
type GoogleConfig struct {
	AppBaseURL string

	ClientID     string
	ClientSecret string

	TokenURL       string
	CalendarAPIURL string
	DriveAPIURL    string
	GmailAPIURL    string

	Timeout   time.Duration
	RateLimit RateLimit

	// Now overrides the clock used for token expiry.
	Now func() time.Time
}

func (c GoogleConfig) withDefaults() GoogleConfig {
	if c.TokenURL == "" {
		c.TokenURL = DefaultGoogleTokenURL
	}
	if c.CalendarAPIURL == "" {
		c.CalendarAPIURL = DefaultCalendarAPIURL
	}
	if c.DriveAPIURL == "" {
		c.DriveAPIURL = DefaultDriveAPIURL
	}
	if c.GmailAPIURL == "" {
		c.GmailAPIURL = DefaultGmailAPIURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// tokenResponse is the body returned by the Google token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// tokenRefresher keeps an OAuth access token valid for one call.
type tokenRefresher struct {
	provider   string
	config     GoogleConfig
	httpClient *http.Client
	policy     RefreshPolicy
}

func newTokenRefresher(provider string, config GoogleConfig, policy RefreshPolicy) tokenRefresher {
	return tokenRefresher{
		provider:   provider,
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		policy:     policy,
	}
}

// ensureValidToken refreshes creds when the access token expires within
// tokenRefreshWindow. The bool result reports whether a refresh happened.
func (t tokenRefresher) ensureValidToken(ctx context.Context, creds entity.Credentials) (entity.Credentials, bool, error) {
	now := t.config.Now()
	if !creds.ExpiresWithin(now, tokenRefreshWindow) {
		return creds, false, nil
	}

	resp, err := t.refresh(ctx, creds.RefreshToken)
	if err != nil {
		if t.policy == RefreshLenient {
			slog.Warn("token refresh failed, continuing with current token",
				slog.String("provider", t.provider),
				slog.Any("error", err))
			return creds, false, nil
		}
		return creds, false, fmt.Errorf("%w: %s: %v", ErrTokenRefresh, t.provider, err)
	}

	refreshed := creds.WithAccessToken(resp.AccessToken, t.config.Now(), time.Duration(resp.ExpiresIn)*time.Second)
	slog.Info("oauth token refreshed",
		slog.String("provider", t.provider),
		slog.Time("expires_at", refreshed.Expiry()))
	return refreshed, true, nil
}

func (t tokenRefresher) refresh(ctx context.Context, refreshToken string) (tokenResponse, error) {
	if refreshToken == "" {
		return tokenResponse{}, errors.New("no refresh token")
	}

	form := url.Values{
		"client_id":     {t.config.ClientID},
		"client_secret": {t.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, transportError("Google OAuth", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, statusError("Google OAuth", resp, body)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return tokenResponse{}, errors.New("token response without access_token")
	}
	return token, nil
}

// oauthTestFailure maps a failed read-only check to a user-facing result.
func oauthTestFailure(provider string, err error) entity.TestResult {
	if statusCodeOf(err) == http.StatusUnauthorized {
		return entity.TestResult{
			Message: fmt.Sprintf("Votre session %s a expiré. Veuillez reconnecter votre compte Google.", provider),
			Details: err.Error(),
		}
	}
	if isTimeout(err) {
		return entity.TestResult{
			Message: fmt.Sprintf("Délai d'attente dépassé lors de la connexion à %s.", provider),
			Details: err.Error(),
		}
	}
	if statusCodeOf(err) == http.StatusForbidden {
		return entity.TestResult{
			Message: fmt.Sprintf("Accès refusé par %s. Vérifiez les autorisations accordées.", provider),
			Details: err.Error(),
		}
	}
	return entity.TestResult{
		Message: fmt.Sprintf("Impossible de se connecter à %s.", provider),
		Details: err.Error(),
	}
}

// refreshedPtr returns creds when refreshed is true.
func refreshedPtr(creds entity.Credentials, refreshed bool) *entity.Credentials {
	if !refreshed {
		return nil
	}
	return &creds
}
