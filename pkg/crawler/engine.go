package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"igpulse/pkg/config"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/normalize"
	"igpulse/pkg/pacing"
)

// SessionIDFormat is the layout of crawl session ids
const SessionIDFormat = "20060102_150405"

// longSessionMinPosts is how many posts a crawl must have collected before
// the long-session warning fires.
const longSessionMinPosts = 20

// Stats counts what happened during the last crawl
type Stats struct {
	SessionID    string        `json:"session_id"`
	Pages        int           `json:"pages"`
	Collected    int           `json:"collected"`
	Duplicates   int           `json:"duplicates"`
	Sponsored    int           `json:"sponsored"`
	ParseErrors  int           `json:"parse_errors"`
	Throttles    int           `json:"throttles"`
	ErrorRetries int           `json:"error_retries"`
	Flushes      int           `json:"flushes"`
	Duration     time.Duration `json:"duration"`
}

// Options configure an Engine
type Options struct {
	Crawl  config.CrawlConfig
	Pacing *pacing.Policy
	// Store receives posts as they are collected; nil keeps results in
	// memory only.
	Store  Sink
	Logger logger.Logger
	// Now overrides the clock in tests
	Now func() time.Time
}

// Engine drives one feed crawl at a time: it pages through a PageSource,
// drops duplicates and sponsored posts, checkpoints to the Sink and paces
// every request.
type Engine struct {
	source PageSource
	cfg    config.CrawlConfig
	pacer  *pacing.Policy
	store  Sink
	logger logger.Logger
	now    func() time.Time

	running sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a crawl engine reading from source
func New(source PageSource, opts Options) *Engine {
	if opts.Pacing == nil {
		opts.Pacing = pacing.New(config.DefaultConfig().Pacing, pacing.WithLogger(opts.Logger))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Crawl.BatchSize <= 0 {
		opts.Crawl.BatchSize = config.DefaultConfig().Crawl.BatchSize
	}
	if opts.Crawl.MaxPosts <= 0 {
		opts.Crawl.MaxPosts = config.DefaultConfig().Crawl.MaxPosts
	}
	return &Engine{
		source: source,
		cfg:    opts.Crawl,
		pacer:  opts.Pacing,
		store:  opts.Store,
		logger: logger.OrDefault(opts.Logger).WithField("component", "crawler"),
		now:    opts.Now,
	}
}

// Stats returns the counters of the current or last crawl
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) updateStats(fn func(*Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// run is the state of a single Crawl call
type run struct {
	ctx      context.Context
	maxPosts int
	started  time.Time

	sessionID string
	cursor    string
	page      Page

	retryCount   int
	errorRetries int
	inBatch      int
	warned       bool

	processed map[string]bool
	results   []models.NormalizedPost
	pending   []models.NormalizedPost

	lastErr error
	err     error
}

// Crawl collects up to maxPosts non-sponsored posts in feed order. It
// always returns the posts gathered so far, even alongside an error, and
// flushes them to the store on every exit path. Exceeding the rate-limit
// retry budget ends the crawl without an error; an expired session returns
// an auth error.
func (e *Engine) Crawl(ctx context.Context, maxPosts int) ([]models.NormalizedPost, error) {
	e.running.Lock()
	defer e.running.Unlock()

	if maxPosts <= 0 {
		maxPosts = e.cfg.MaxPosts
	}

	r := &run{
		ctx:       ctx,
		maxPosts:  maxPosts,
		started:   e.now(),
		processed: make(map[string]bool),
	}
	r.sessionID = r.started.Format(SessionIDFormat)

	e.statsMu.Lock()
	e.stats = Stats{SessionID: r.sessionID}
	e.statsMu.Unlock()

	logger.LogComponentStart(e.logger, "crawler", map[string]interface{}{
		"session_id": r.sessionID,
		"max_posts":  maxPosts,
		"batch_size": e.cfg.BatchSize,
	})

	st := stateInit
	for st != stateDone {
		next := e.step(st, r)
		if next != st {
			e.logger.DebugWithFields("Crawl state transition", map[string]interface{}{
				"from": st.String(),
				"to":   next.String(),
			})
		}
		st = next
	}

	if err := e.flush(r); err != nil && r.err == nil {
		r.err = err
	}

	e.updateStats(func(s *Stats) {
		s.Collected = len(r.results)
		s.Duration = e.now().Sub(r.started)
	})

	reason := "done"
	if r.err != nil {
		reason = r.err.Error()
	}
	logger.LogComponentStop(e.logger, "crawler", reason)

	return r.results, r.err
}

func (e *Engine) step(st state, r *run) state {
	switch st {
	case stateInit:
		return e.onInit(r)
	case stateFetchingPage:
		return e.onFetch(r)
	case stateProcessingItems:
		return e.onProcess(r)
	case stateThrottleBreak:
		return e.onThrottleBreak(r)
	case stateThrottledRetry:
		return e.onThrottledRetry(r)
	case stateErrorRetry:
		return e.onErrorRetry(r)
	default:
		return stateDone
	}
}

// sleep waits d and ends the crawl when the context is cancelled
func (e *Engine) sleep(r *run, d time.Duration, next state) state {
	if err := e.pacer.Sleep(r.ctx, d); err != nil {
		r.err = err
		return stateDone
	}
	return next
}

func (e *Engine) onInit(r *run) state {
	if e.store != nil {
		if _, err := e.store.Initialize(r.sessionID); err != nil {
			r.err = err
			return stateDone
		}
	}

	delay := e.pacer.StartupDelay()
	e.logger.DebugWithFields("Preparing first request", map[string]interface{}{
		"delay": delay,
	})
	return e.sleep(r, delay, stateFetchingPage)
}

func (e *Engine) onFetch(r *run) state {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return stateDone
	}

	page, err := e.source.FetchPage(r.ctx, r.cursor)
	if err != nil {
		r.lastErr = err
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			r.err = err
			return stateDone
		case igerrors.IsType(err, igerrors.ErrorTypeAuth):
			e.logger.WithError(err).Error("Session expired, stopping crawl")
			r.err = err
			return stateDone
		case igerrors.IsType(err, igerrors.ErrorTypeRateLimit):
			return stateThrottledRetry
		default:
			return stateErrorRetry
		}
	}

	if len(page.Items) == 0 {
		e.logger.Info("No more feed items")
		return stateDone
	}

	r.page = page
	return stateProcessingItems
}

func (e *Engine) onProcess(r *run) state {
	inPage := 0
	for _, raw := range r.page.Items {
		id := normalize.PostID(raw)
		if id != "" && r.processed[id] {
			e.updateStats(func(s *Stats) { s.Duplicates++ })
			continue
		}

		post := normalize.Normalize(raw)
		if id == "" {
			id = post.PostID
		}
		if post.IsStub() {
			e.updateStats(func(s *Stats) { s.ParseErrors++ })
			e.logger.WarnWithFields("Keeping unparseable post as stub", map[string]interface{}{
				"post_id": id,
				"error":   post.ParseError,
			})
		}

		if post.IsSponsored {
			if id != "" {
				r.processed[id] = true
			}
			e.updateStats(func(s *Stats) { s.Sponsored++ })
			e.logger.DebugWithFields("Skipping sponsored post", map[string]interface{}{
				"post_id": id,
				"signals": normalize.SponsorSignals(raw),
			})
			continue
		}

		if id != "" {
			r.processed[id] = true
		}
		r.results = append(r.results, post)
		r.pending = append(r.pending, post)
		inPage++
		r.inBatch++

		if len(r.pending) >= e.cfg.BatchSize {
			if err := e.flush(r); err != nil {
				r.err = err
				return stateDone
			}
		}

		if inPage >= e.cfg.BatchSize || len(r.results) >= r.maxPosts {
			break
		}
	}

	r.retryCount = 0
	r.cursor = r.page.NextCursor
	e.updateStats(func(s *Stats) { s.Pages++ })
	logger.LogCrawlProgress(e.logger, r.sessionID, len(r.results), r.maxPosts)
	e.warnLongSession(r)

	if r.cursor == "" || len(r.results) >= r.maxPosts {
		return stateDone
	}

	if e.pacer.Config().Browsing.Enabled {
		if _, err := e.pacer.SimulateBrowsing(r.ctx); err != nil {
			r.err = err
			return stateDone
		}
	}

	next := stateFetchingPage
	if r.inBatch >= e.cfg.BatchSize {
		next = stateThrottleBreak
	}
	return e.sleep(r, e.pacer.RequestDelay(), next)
}

func (e *Engine) warnLongSession(r *run) {
	if r.warned || e.cfg.SessionWarnAfter <= 0 {
		return
	}
	elapsed := e.now().Sub(r.started)
	if elapsed > e.cfg.SessionWarnAfter && len(r.results) > longSessionMinPosts {
		r.warned = true
		e.logger.WarnWithFields("Long crawl session, consider stopping and resuming later", map[string]interface{}{
			"elapsed":   elapsed.Round(time.Second),
			"collected": len(r.results),
		})
	}
}

func (e *Engine) onThrottleBreak(r *run) state {
	delay := e.pacer.BatchBreak()
	e.logger.InfoWithFields("Batch complete, taking a break", map[string]interface{}{
		"batch": r.inBatch,
		"delay": delay,
	})
	r.inBatch = 0
	return e.sleep(r, delay, stateFetchingPage)
}

func (e *Engine) onThrottledRetry(r *run) state {
	r.retryCount++
	e.updateStats(func(s *Stats) { s.Throttles++ })

	if r.retryCount > e.cfg.MaxRetries {
		e.logger.WithError(r.lastErr).WarnWithFields("Max rate-limit retries reached, stopping crawl", map[string]interface{}{
			"retries":   r.retryCount - 1,
			"collected": len(r.results),
		})
		return stateDone
	}

	wait := e.pacer.Backoff(r.retryCount)
	logger.LogThrottle(e.logger, r.retryCount, e.cfg.MaxRetries, wait)
	return e.sleep(r, wait, stateFetchingPage)
}

func (e *Engine) onErrorRetry(r *run) state {
	r.errorRetries++
	e.updateStats(func(s *Stats) { s.ErrorRetries++ })

	if e.cfg.MaxErrorRetries > 0 && r.errorRetries > e.cfg.MaxErrorRetries {
		r.err = igerrors.Wrap(r.lastErr, igerrors.TypeOf(r.lastErr), "giving up after repeated fetch errors")
		return stateDone
	}

	delay := e.pacer.Config().RetryDelay
	e.logger.WithError(r.lastErr).WarnWithFields("Fetch failed, retrying", map[string]interface{}{
		"attempt": r.errorRetries,
		"delay":   delay,
	})
	return e.sleep(r, delay, stateFetchingPage)
}

// flush hands pending posts to the store
func (e *Engine) flush(r *run) error {
	if len(r.pending) == 0 || e.store == nil {
		r.pending = nil
		return nil
	}
	if err := e.store.Append(r.pending); err != nil {
		e.logger.WithError(err).ErrorWithFields("Failed to save posts", map[string]interface{}{
			"pending": len(r.pending),
		})
		return err
	}
	e.logger.DebugWithFields("Saved progress", map[string]interface{}{
		"saved": len(r.pending),
		"total": len(r.results),
	})
	r.pending = nil
	e.updateStats(func(s *Stats) { s.Flushes++ })
	return nil
}

// FetchPosts fetches and normalizes individual posts. Posts that fail to
// fetch are skipped; the first such error is returned with the rest.
func FetchPosts(ctx context.Context, fetcher PostFetcher, ids []string) ([]models.NormalizedPost, error) {
	var raws []models.RawPost
	var firstErr error
	for _, id := range ids {
		raw, err := fetcher.FetchPost(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return normalize.NormalizeAll(raws), ctx.Err()
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		raws = append(raws, raw)
	}
	return normalize.NormalizeAll(raws), firstErr
}
