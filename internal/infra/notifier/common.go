// Package notifier implements the provider transports and message
// formatters of the integration dispatcher: Slack, Discord and Teams
// incoming webhooks, Google Calendar, Drive and Gmail over OAuth, and
// Trello over its REST API.
//
// Transports never retry. Transport failures are normalized into an
// entity.SendResult; only configuration errors and strict OAuth refresh
// failures are returned as errors.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"integration-hub/internal/domain/entity"
)

// Fallback literals used when an event field is missing.
const (
	fallbackName = "Sans nom"
	fallbackUser = "Utilisateur"
	fallbackNA   = "N/A"
)

const (
	// maxCommentLength bounds free-text fields such as comment bodies.
	maxCommentLength = 200
	truncationSuffix = "..."

	// maxErrorBodyLength bounds provider response bodies copied into errors.
	maxErrorBodyLength = 500
)

// DefaultTimeout is the request budget shared by every provider call.
const DefaultTimeout = 10 * time.Second

// RateLimitError represents a 429 rate limit error from a provider.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a 4xx client error from a provider.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents a 5xx server error from a provider.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TimeoutError is returned when a provider call exceeded its deadline.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// statusError converts a non-2xx response into a typed error carrying the body.
func statusError(provider string, resp *http.Response, body []byte) error {
	text := truncateText(strings.TrimSpace(string(body)), maxErrorBodyLength, truncationSuffix)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    fmt.Sprintf("%s rate limit exceeded: %s", provider, text),
			RetryAfter: extractRetryAfter(resp, body),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API error %d: %s", provider, resp.StatusCode, text),
		}
	case resp.StatusCode >= 500:
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API error %d: %s", provider, resp.StatusCode, text),
		}
	default:
		return fmt.Errorf("%s unexpected status code %d: %s", provider, resp.StatusCode, text)
	}
}

// transportError wraps a failed round trip, marking deadline expiry.
func transportError(provider string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}

// isTimeout reports whether err comes from an expired deadline rather than
// another network failure.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusCodeOf extracts the HTTP status carried by a typed error, or 0.
func statusCodeOf(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode
	}
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return http.StatusTooManyRequests
	}
	return 0
}

// extractRetryAfter reads retry_after from a JSON body, then the
// Retry-After header. Defaults to 5s.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 5 * time.Second
}

// truncateText shortens text to maxLength characters and appends suffix
// when anything was cut.
func truncateText(text string, maxLength int, suffix string) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLength]) + suffix
}

// truncateComment applies the comment length bound.
func truncateComment(text string) string {
	return truncateText(text, maxCommentLength, truncationSuffix)
}

// deepLink builds baseURL/resource/id, or "" when either part is missing.
func deepLink(baseURL, resource, id string) string {
	if baseURL == "" || id == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/" + resource + "/" + id
}

// failedResult normalizes a transport error into a failed SendResult.
func failedResult(err error, started time.Time) entity.SendResult {
	return entity.SendResult{
		Success:    false,
		StatusCode: statusCodeOf(err),
		Duration:   time.Since(started),
		Error:      err.Error(),
		Throttled:  errors.Is(err, ErrRateLimitWait),
	}
}

// succeededResult reports a completed provider call.
func succeededResult(statusCode int, started time.Time) entity.SendResult {
	return entity.SendResult{
		Success:    true,
		StatusCode: statusCode,
		Duration:   time.Since(started),
	}
}
