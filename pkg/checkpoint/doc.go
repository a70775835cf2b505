// Package checkpoint writes durable JSON snapshots.
//
// Session files and post files are both rewritten in place many times during
// a crawl. WriteJSON replaces a file atomically (temp file, fsync, rename)
// so an interrupted process never leaves a half-written document behind.
//
// DataDir resolves the platform data directory:
//   - Linux: $XDG_DATA_HOME/igpulse or ~/.local/share/igpulse
//   - macOS: ~/Library/Application Support/igpulse
//   - Windows: %APPDATA%/igpulse
package checkpoint
