package entity

import "time"

// SendResult is the normalized outcome of one provider send. Transport
// failures are reported here rather than as errors.
type SendResult struct {
	Success    bool
	StatusCode int
	Duration   time.Duration
	Error      string

	// Throttled is set when the outbound rate limit rejected the call
	// locally. No request reached the provider.
	Throttled bool

	// RefreshedCredentials is set when an OAuth access token was refreshed
	// during the call and should be persisted.
	RefreshedCredentials *Credentials
}

// Skipped returns the success result used when a formatter decided the
// event produces no provider-side content.
func Skipped() SendResult {
	return SendResult{Success: true}
}

// TestResult is the user-facing outcome of a connection test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	RefreshedCredentials *Credentials `json:"-"`
}
