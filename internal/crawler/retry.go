package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"
)

// RetryPolicy decides which fetch failures are worth another attempt and
// how long to back off between attempts.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy with jittered exponential backoff.
// Non-positive arguments fall back to defaults.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &RetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries reports the retry cap.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// RetryableStatus reports whether an HTTP status is a transient failure.
// 429 is transient but additionally slows the politeness gate; other 4xx
// are terminal for the URL.
func (p *RetryPolicy) RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// RetryableError reports whether a transport-level error is transient.
// Context cancellation is never retried; per-request timeouts and
// connection resets are.
func (p *RetryPolicy) RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Timeouts, resets, and other transport errors all qualify; anything
	// that reached this point did not produce an HTTP status to act on.
	return true
}

// Backoff returns the wait before the given attempt (0-based), half
// deterministic and half random jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
