package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing sends for the whole process. After a flood wait
// it holds every caller until the provider's deadline has passed.
type RateLimiter struct {
	limiter *rate.Limiter

	pausedUntil time.Time
	mu          sync.Mutex
}

// NewRateLimiter creates a limiter allowing rps sends per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until the next send is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	until := r.pausedUntil
	r.mu.Unlock()

	if d := time.Until(until); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.limiter.Wait(ctx)
}

// SetFloodWait pauses all callers for the given number of seconds.
// A shorter pause never cuts an active one.
func (r *RateLimiter) SetFloodWait(seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(time.Duration(seconds) * time.Second)
	if until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

// Observe records a flood wait carried by err, if any, and returns its seconds.
func (r *RateLimiter) Observe(err error) int {
	wait := FloodWaitSeconds(err)
	if wait > 0 {
		r.SetFloodWait(wait)
	}
	return wait
}
