package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	errs "igpulse/pkg/errors"
	"igpulse/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No retry yet"},
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestDoublingIsUncappedAndStrictlyIncreasing(t *testing.T) {
	backoff := Doubling(10 * time.Second)

	if got := backoff.NextDelay(1); got != 10*time.Second {
		t.Errorf("first retry: expected 10s, got %v", got)
	}
	if got := backoff.NextDelay(3); got != 40*time.Second {
		t.Errorf("third retry: expected 40s, got %v", got)
	}

	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		d := backoff.NextDelay(n)
		if d <= prev {
			t.Fatalf("delay for retry %d (%v) not greater than previous (%v)", n, d, prev)
		}
		prev = d
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
		Rand:         rand.New(rand.NewSource(7)),
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		d := backoff.NextDelay(2)
		if d < 140*time.Millisecond || d > 260*time.Millisecond {
			t.Errorf("jittered delay %v outside ±30%% of 200ms", d)
		}
		delays[d] = true
	}

	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter")
	}
}

func TestWaitChunkedCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := WaitChunked(ctx, time.Hour, 5*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
}

func TestWaitChunkedCompletes(t *testing.T) {
	start := time.Now()
	if err := WaitChunked(context.Background(), 30*time.Millisecond, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("WaitChunked returned early")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		Logger:      logger.NewNopLogger(),
	}

	if err := Do(context.Background(), op, cfg); err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		OnRetry:     func(attempt int, err error, d time.Duration) { retried = append(retried, attempt) },
		Logger:      logger.NewNopLogger(),
	}

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errs.New(errs.ErrorTypeNetwork, "connection reset")
	}, cfg)

	if err == nil || !errs.IsType(err, errs.ErrorTypeNetwork) {
		t.Errorf("Expected wrapped network error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if len(retried) != 2 {
		t.Errorf("Expected OnRetry twice, got %v", retried)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authError := &errs.Error{Type: errs.ErrorTypeAuth, Message: "login_required", Code: 401}

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return authError
	}, &Config{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Millisecond}, Logger: logger.NewNopLogger()})

	if err != authError {
		t.Errorf("Expected auth error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}, &Config{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: 50 * time.Millisecond}, Logger: logger.NewNopLogger()})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts before cancellation, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errs.New(errs.ErrorTypeServerError, "503")
		}
		return "success", nil
	}, &Config{MaxAttempts: 3, Backoff: &ConstantBackoff{Delay: time.Millisecond}, Logger: logger.NewNopLogger()})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	if DefaultRetryIf(nil) {
		t.Error("nil error should not be retried")
	}
	if DefaultRetryIf(context.Canceled) {
		t.Error("cancellation should not be retried")
	}
	if DefaultRetryIf(errs.New(errs.ErrorTypeParsing, "bad json")) {
		t.Error("parse errors should not be retried")
	}
	if !DefaultRetryIf(errs.New(errs.ErrorTypeRateLimit, "slow down")) {
		t.Error("rate limit errors should be retried")
	}
	if !DefaultRetryIf(errors.New("unknown")) {
		t.Error("untyped errors should be retried")
	}
}
