// Package ratelimit enforces a hard ceiling on API request rate.
//
// Human-like pacing lives in the pacing package; this limiter is the floor
// underneath it, so that a misconfigured pacing policy can never hammer the
// API. TokenBucket wraps golang.org/x/time/rate and can Throttle itself
// after the server answers with a rate-limit signal.
package ratelimit
