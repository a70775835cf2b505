// Package poststore persists collected posts as JSON files.
//
// Each crawl session writes posts_<session>_<n>.json files. A file starts
// with a collector_info header and an empty posts array; appends rewrite the
// whole file atomically, so a crash leaves the previous valid version on
// disk. Once a file holds the configured maximum the store rotates to the
// next number. If the current file can no longer be read, the pending posts
// are saved to a recovery_<session>_<timestamp>.json file marked with
// "recovery": true.
//
// Usage:
//
//	store := poststore.New("./collected_posts", poststore.CollectorInfo{Username: "me"}, 100, log)
//	if _, err := store.Initialize("20240301_120000"); err != nil {
//	    return err
//	}
//	if err := store.Append(posts); err != nil {
//	    return err
//	}
package poststore
