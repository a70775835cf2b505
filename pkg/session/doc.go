// Package session persists the logged-in Instagram session.
//
// The current session lives in <dir>/session.json. Every save also writes a
// timestamped copy to <dir>/session_backups/, and Load falls back to the
// newest readable backup when the primary file is missing or corrupt.
// Logging out moves the current session into the backups instead of
// deleting it.
package session
