package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"igpulse/pkg/config"
	"igpulse/pkg/logger"
	"igpulse/pkg/retry"
)

// DefaultChunk is the longest single sleep; longer waits are split so that
// cancellation is noticed within this bound.
const DefaultChunk = 15 * time.Second

// Category names a browsing-simulation pause
type Category string

const (
	Reading     Category = "reading"
	Engagement  Category = "engagement"
	Distraction Category = "distraction"
	LongBreak   Category = "long_break"
)

// Pause is one browsing pause that fired
type Pause struct {
	Category Category
	Duration time.Duration
}

// Policy produces human-like delays. It holds no state besides its
// configuration and random source.
type Policy struct {
	cfg    config.PacingConfig
	mu     sync.Mutex
	rng    *rand.Rand
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Policy
type Option func(*Policy)

// WithRand sets the random source, e.g. a seeded one in tests
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) { p.rng = r }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithSleeper replaces the sleep function. Tests use it to record waits
// instead of sleeping.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

// New creates a pacing policy from configuration
func New(cfg config.PacingConfig, opts ...Option) *Policy {
	if cfg.Chunk <= 0 || cfg.Chunk > DefaultChunk {
		cfg.Chunk = DefaultChunk
	}
	p := &Policy{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p.logger = logger.OrDefault(p.logger).WithField("component", "pacing")
	if p.sleep == nil {
		chunk := cfg.Chunk
		p.sleep = func(ctx context.Context, d time.Duration) error {
			return retry.WaitChunked(ctx, d, chunk)
		}
	}
	return p
}

// Config returns the policy's configuration
func (p *Policy) Config() config.PacingConfig {
	return p.cfg
}

// Delay draws a duration uniformly from [min, max]
func (p *Policy) Delay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}

// RequestDelay is the inter-page delay drawn from the configured range
func (p *Policy) RequestDelay() time.Duration {
	return p.Delay(p.cfg.MinDelay, p.cfg.MaxDelay)
}

// StartupDelay is the short pause before the first request
func (p *Policy) StartupDelay() time.Duration {
	return p.Delay(p.cfg.StartupMin, p.cfg.StartupMax)
}

// BatchBreak is the longer pause taken after each full batch
func (p *Policy) BatchBreak() time.Duration {
	min := time.Duration(float64(p.cfg.MaxDelay) * p.cfg.BatchBreakMinFactor)
	max := time.Duration(float64(p.cfg.MaxDelay) * p.cfg.BatchBreakMaxFactor)
	return p.Delay(min, max)
}

// Backoff returns base * 2^(retryCount-1), or zero when retryCount <= 0
func Backoff(retryCount int, base time.Duration) time.Duration {
	return retry.Doubling(base).NextDelay(retryCount)
}

// Backoff is the rate-limit wait for the given retry using the configured
// retry delay as base.
func (p *Policy) Backoff(retryCount int) time.Duration {
	return Backoff(retryCount, p.cfg.RetryDelay)
}

// Plan decides which browsing pauses fire this time. Each category is
// rolled independently.
func (p *Policy) Plan() []Pause {
	categories := []struct {
		name Category
		cfg  config.BrowsingPause
	}{
		{Reading, p.cfg.Browsing.Reading},
		{Engagement, p.cfg.Browsing.Engagement},
		{Distraction, p.cfg.Browsing.Distraction},
		{LongBreak, p.cfg.Browsing.LongBreak},
	}

	var pauses []Pause
	for _, c := range categories {
		p.mu.Lock()
		roll := p.rng.Float64()
		p.mu.Unlock()
		if roll >= c.cfg.Probability {
			continue
		}
		pauses = append(pauses, Pause{Category: c.name, Duration: p.Delay(c.cfg.Min, c.cfg.Max)})
	}
	return pauses
}

// SimulateBrowsing sleeps through whatever pauses Plan selects and returns
// the time spent. It stops early with ctx.Err() when cancelled.
func (p *Policy) SimulateBrowsing(ctx context.Context) (time.Duration, error) {
	var total time.Duration
	for _, pause := range p.Plan() {
		p.logger.DebugWithFields("Simulating browsing", map[string]interface{}{
			"category": string(pause.Category),
			"duration": pause.Duration,
		})
		if err := p.sleep(ctx, pause.Duration); err != nil {
			return total, err
		}
		total += pause.Duration
	}
	return total, nil
}

// Sleep waits for d in chunks of at most the configured chunk size
func (p *Policy) Sleep(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}
