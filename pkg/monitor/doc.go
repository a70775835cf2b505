// Package monitor schedules recurring crawls with github.com/robfig/cron/v3.
//
// Each account gets its own cron entry. RunNow fans accounts out over an
// errgroup bounded by the configured parallelism, and a per-account guard
// skips a run while the previous crawl of that account is still going.
package monitor
