package notifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitWait is returned when no outbound token became available
// before the caller's deadline. The request was never sent.
var ErrRateLimitWait = errors.New("outbound rate limit wait exceeded")

// limiterIdleTTL is how long an unused per-credential bucket is kept.
// A bucket idle that long is full again, so dropping it loses nothing.
const limiterIdleTTL = 10 * time.Minute

// RateLimit is the outbound request budget of one credential.
// A zero RequestsPerSecond disables limiting.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RateLimiter implements token bucket algorithm for rate limiting.
// It keeps a provider API from being hit harder than its documented budget.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewRateLimiter creates a new RateLimiter with the specified rate and burst capacity.
//
// The token bucket algorithm allows up to 'burst' requests immediately,
// then refills tokens at 'requestsPerSecond' rate.
//
// Example:
//
//	limiter := NewRateLimiter(0.5, 3)  // Discord: 30 req/min, burst of 3
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(requestsPerSecond)
	l := rate.NewLimiter(r, burst)

	return &RateLimiter{
		rate:    r,
		burst:   burst,
		limiter: l,
	}
}

// Allow blocks until a token is available or the context is canceled.
// It should be called before making a rate-limited request. A nil
// RateLimiter never blocks.
//
// Waiting is bounded by ctx; requests are never queued past it and never
// retried. Failures wrap ErrRateLimitWait together with the context error,
// or context.DeadlineExceeded when the limiter refused early because the
// next token falls after the deadline.
func (r *RateLimiter) Allow(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrRateLimitWait, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrRateLimitWait, context.DeadlineExceeded)
	}
	return nil
}

// KeyedRateLimiter keeps one token bucket per credential. Slack and Discord
// budgets apply per webhook, Google and Trello budgets per token, so one
// tenant's burst never spends another tenant's budget.
type KeyedRateLimiter struct {
	limit RateLimit
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*keyedBucket
	lastSweep time.Time
}

type keyedBucket struct {
	limiter  *RateLimiter
	lastUsed time.Time
}

// NewKeyedRateLimiter returns nil when limit disables limiting.
func NewKeyedRateLimiter(limit RateLimit) *KeyedRateLimiter {
	if limit.RequestsPerSecond <= 0 {
		return nil
	}
	return &KeyedRateLimiter{
		limit:   limit,
		now:     time.Now,
		buckets: make(map[string]*keyedBucket),
	}
}

// newLimiter returns nil when cfg disables limiting.
func newLimiter(cfg RateLimit) *KeyedRateLimiter {
	return NewKeyedRateLimiter(cfg)
}

// Allow waits for a token from the bucket of key. A nil KeyedRateLimiter
// never blocks.
func (k *KeyedRateLimiter) Allow(ctx context.Context, key string) error {
	if k == nil {
		return nil
	}
	return k.bucket(key).Allow(ctx)
}

// Len returns the number of live buckets.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedRateLimiter) bucket(key string) *RateLimiter {
	// Keys are webhook URLs and tokens; only their digest is retained.
	sum := sha256.Sum256([]byte(key))
	id := hex.EncodeToString(sum[:])

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) >= limiterIdleTTL {
		for bid, b := range k.buckets {
			if now.Sub(b.lastUsed) >= limiterIdleTTL {
				delete(k.buckets, bid)
			}
		}
		k.lastSweep = now
	}

	b, ok := k.buckets[id]
	if !ok {
		b = &keyedBucket{limiter: NewRateLimiter(k.limit.RequestsPerSecond, k.limit.Burst)}
		k.buckets[id] = b
	}
	b.lastUsed = now
	return b.limiter
}
