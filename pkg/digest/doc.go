// Package digest picks the best new posts for an account and renders them
// as a notification.
//
// Delivered post ids are kept in a SQLite ledger (modernc.org/sqlite, no
// cgo) so each post is surfaced once per account.
package digest
