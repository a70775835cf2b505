package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff computes BaseDelay * Multiplier^(attempt-1), optionally
// capped and jittered.
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay caps the delay; zero means uncapped
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
	// Rand is the jitter source; nil uses the global source
	Rand *rand.Rand
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Doubling returns the uncapped, jitter-free base*2^(n-1) schedule
func Doubling(base time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{BaseDelay: base, Multiplier: 2.0}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))

	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (eb.float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

func (eb *ExponentialBackoff) float64() float64 {
	if eb.Rand != nil {
		return eb.Rand.Float64()
	}
	return rand.Float64()
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitChunked waits for delay in slices no longer than chunk, checking ctx
// between slices. It returns ctx.Err() as soon as cancellation is seen.
func WaitChunked(ctx context.Context, delay, chunk time.Duration) error {
	if chunk <= 0 {
		return Wait(ctx, delay)
	}
	for delay > 0 {
		step := delay
		if step > chunk {
			step = chunk
		}
		if err := Wait(ctx, step); err != nil {
			return err
		}
		delay -= step
	}
	return ctx.Err()
}
