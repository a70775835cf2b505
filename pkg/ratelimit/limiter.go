package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends
	Wait(ctx context.Context) error
	// Reset restores the configured rate and a full burst
	Reset()
}

// TokenBucket is a token bucket over golang.org/x/time/rate whose rate can
// be throttled down after the server pushes back.
type TokenBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	baseRate rate.Limit
	burst    int
	// minRate is the floor Throttle never goes below
	minRate rate.Limit
}

// NewPerMinute creates a limiter allowing requestsPerMinute with the given burst
func NewPerMinute(requestsPerMinute, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(float64(requestsPerMinute) / 60.0)
	if requestsPerMinute <= 0 {
		r = rate.Inf
	}
	return &TokenBucket{
		limiter:  rate.NewLimiter(r, burst),
		baseRate: r,
		burst:    burst,
		minRate:  r / 8,
	}
}

// NewUnlimited returns a limiter that never blocks
func NewUnlimited() *TokenBucket {
	return NewPerMinute(0, 1)
}

// Allow checks if a request can proceed right now
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Throttle halves the current rate, down to an eighth of the configured one
func (tb *TokenBucket) Throttle() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.baseRate == rate.Inf {
		return
	}
	next := tb.limiter.Limit() / 2
	if next < tb.minRate {
		next = tb.minRate
	}
	tb.limiter.SetLimit(next)
}

// Rate returns the current requests per minute
func (tb *TokenBucket) Rate() float64 {
	return float64(tb.current().Limit()) * 60
}

// Reset restores the configured rate and a full burst
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.baseRate, tb.burst)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Ensure interface compliance
var _ Limiter = (*TokenBucket)(nil)

// Every is a convenience for tests and config: one request per interval
func Every(interval time.Duration, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	r := rate.Every(interval)
	return &TokenBucket{
		limiter:  rate.NewLimiter(r, burst),
		baseRate: r,
		burst:    burst,
		minRate:  r / 8,
	}
}
