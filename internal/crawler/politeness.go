package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate is the shared politeness gate: it releases at most one ticket per
// delay interval across all workers, so the minimum inter-request
// spacing to the target host holds regardless of concurrency.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
	maxWait time.Duration
}

// NewGate builds a gate releasing one ticket per delay. A non-positive
// delay disables pacing.
func NewGate(delay time.Duration) *Gate {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
		maxWait: time.Minute,
	}
}

// Wait blocks until a ticket is available or the context is done.
// It returns how long the caller waited.
func (g *Gate) Wait(ctx context.Context) (time.Duration, error) {
	g.mu.Lock()
	limiter := g.limiter
	g.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("politeness wait: %w", err)
	}
	return time.Since(start), nil
}

// Slow doubles the inter-request delay in response to throttling (429).
// The slowdown persists for the rest of the run.
func (g *Gate) Slow() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.delay <= 0 {
		g.delay = time.Second
	} else {
		g.delay *= 2
	}
	if g.delay > g.maxWait {
		g.delay = g.maxWait
	}
	g.limiter.SetLimit(rate.Every(g.delay))
}

// Delay reports the current inter-request spacing.
func (g *Gate) Delay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delay
}
