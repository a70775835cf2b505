// Package retry provides backoff schedules, context-aware waiting and a
// retry loop for transient failures of Instagram API calls.
//
//	post, err := retry.DoWithResult(ctx, func(ctx context.Context) (RawPost, error) {
//		return client.FetchPost(ctx, shortcode)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.Doubling(5 * time.Second),
//	})
//
// WaitChunked is the building block for long human-like pauses: it sleeps
// in short slices so a cancelled context is noticed quickly.
package retry
