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

// restClient performs JSON calls against a provider REST API.
type restClient struct {
	provider    string
	httpClient  *http.Client
	rateLimiter *KeyedRateLimiter
}

func newRESTClient(provider string, timeout time.Duration, limit RateLimit) restClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return restClient{
		provider:    provider,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: newLimiter(limit),
	}
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil). bearer is sent as an Authorization header when set.
// limitKey selects the credential's outbound budget.
func (c restClient) do(ctx context.Context, limitKey, method, rawURL, bearer string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal %s request: %w", c.provider, err)
		}
		reader = bytes.NewReader(jsonData)
	}

	if err := c.rateLimiter.Allow(ctx, limitKey); err != nil {
		return 0, transportError(c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, fmt.Errorf("create http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, transportError(c.provider, redactURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, transportError(c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(c.provider, resp, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", c.provider, err)
		}
	}
	return resp.StatusCode, nil
}

// limitKey identifies the account behind creds for rate limiting. The
// refresh token outlives access tokens, so a refresh keeps the same bucket.
func limitKey(creds entity.Credentials) string {
	switch {
	case creds.RefreshToken != "":
		return creds.RefreshToken
	case creds.AccessToken != "":
		return creds.AccessToken
	case creds.Token != "":
		return creds.APIKey + ":" + creds.Token
	default:
		return creds.WebhookURL
	}
}

// redactURL drops the query string from a *url.Error so credentials passed
// as query parameters never reach error messages.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
		urlErr.URL = urlErr.URL[:i]
	}
	return err
}
