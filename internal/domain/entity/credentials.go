package entity

import "time"

// Credentials is the decrypted secret bundle of an integration. Only the
// fields of the integration's variant are populated:
//   - webhook providers (Slack, Discord, Teams): WebhookURL
//   - Google providers (Gmail, Calendar, Drive): AccessToken, RefreshToken, ExpiresAt
//   - Trello: APIKey, Token
//
// It lives in memory for the duration of one dispatch and is never logged.
type Credentials struct {
	WebhookURL string `json:"webhookUrl,omitempty"`

	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is the access token expiry in Unix milliseconds.
	ExpiresAt int64 `json:"expiresAt,omitempty"`

	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (c Credentials) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires before now+window.
func (c Credentials) ExpiresWithin(now time.Time, window time.Duration) bool {
	return c.Expiry().Before(now.Add(window))
}

// WithAccessToken returns a copy carrying a refreshed token valid for expiresIn.
func (c Credentials) WithAccessToken(token string, now time.Time, expiresIn time.Duration) Credentials {
	c.AccessToken = token
	c.ExpiresAt = now.Add(expiresIn).UnixMilli()
	return c
}
