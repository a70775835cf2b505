// Package collector ties the pipeline together for one account: log in,
// crawl a feed into post files, score what was collected and deliver a
// digest of the posts that have not been sent before.
//
// Each account gets its own session directory and output directory below
// the configured roots, so several accounts can be collected side by side
// by the monitor.
package collector
