package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"igpulse/pkg/crawler"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/normalize"
)

// FetchJob asks for one post by numeric id or shortcode
type FetchJob struct {
	ID    string
	Index int
}

// FetchResult represents the result of a fetch job
type FetchResult struct {
	Job      FetchJob
	Post     models.NormalizedPost
	Skipped  bool
	Error    error
	Duration time.Duration
}

// KnownFunc reports whether a post was already collected
type KnownFunc func(id string) bool

// WorkerPool fetches single posts concurrently. Request pacing is left to
// the fetcher, whose client waits on its own rate limiter.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan FetchJob
	resultQueue chan FetchResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     crawler.PostFetcher
	known       KnownFunc
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewWorkerPool creates a fetch pool. known may be nil.
func NewWorkerPool(ctx context.Context, numWorkers int, fetcher crawler.PostFetcher, known KnownFunc, log logger.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan FetchJob, numWorkers*2),
		resultQueue: make(chan FetchResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		known:       known,
		logger:      logger.OrDefault(log).WithField("component", "fetch_pool"),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting fetch pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for queued jobs to finish and closes the result channel.
// Submit must not be called after Stop.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobQueue)
		wp.wg.Wait()
		close(wp.resultQueue)
		wp.cancel()
	})
}

// Submit queues a job, blocking while the queue is full
func (wp *WorkerPool) Submit(job FetchJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("fetch pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan FetchResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			return
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job FetchJob, workerID int) FetchResult {
	start := time.Now()
	result := FetchResult{Job: job}

	if wp.known != nil && wp.known(job.ID) {
		wp.logger.DebugWithFields("Post already collected", map[string]interface{}{
			"worker_id": workerID,
			"post":      job.ID,
		})
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	raw, err := wp.fetcher.FetchPost(wp.ctx, job.ID)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		wp.logger.WithError(err).WarnWithFields("Post fetch failed", map[string]interface{}{
			"worker_id": workerID,
			"post":      job.ID,
			"type":      string(igerrors.TypeOf(err)),
		})
		return result
	}

	result.Post = normalize.Normalize(raw)
	wp.logger.DebugWithFields("Post fetched", map[string]interface{}{
		"worker_id": workerID,
		"post":      job.ID,
		"duration":  result.Duration,
	})
	return result
}

// FetchAll fetches ids with numWorkers workers and returns the posts in
// input order. Duplicate ids are fetched once. Failed posts are left out
// and the first failure in input order is returned alongside the rest.
func FetchAll(ctx context.Context, fetcher crawler.PostFetcher, ids []string, numWorkers int, known KnownFunc, log logger.Logger) ([]models.NormalizedPost, error) {
	var jobs []FetchJob
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		jobs = append(jobs, FetchJob{ID: id, Index: len(jobs)})
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	pool := NewWorkerPool(ctx, numWorkers, fetcher, known, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	results := make([]*FetchResult, len(jobs))
	for r := range pool.Results() {
		r := r
		results[r.Job.Index] = &r
	}

	var posts []models.NormalizedPost
	var firstErr error
	for _, r := range results {
		switch {
		case r == nil:
			if firstErr == nil && ctx.Err() != nil {
				firstErr = ctx.Err()
			}
		case r.Error != nil:
			if firstErr == nil {
				firstErr = r.Error
			}
		case !r.Skipped:
			posts = append(posts, r.Post)
		}
	}
	if ctx.Err() != nil {
		return posts, ctx.Err()
	}
	return posts, firstErr
}
