// Package auth stores the browser cookies igpulse authenticates with and
// turns them into verified sessions.
//
// Cookies are kept in the system keychain (github.com/zalando/go-keyring)
// with an encrypted file as index and fallback, and may also come from
// IGPULSE_* environment variables. The Authenticator verifies cookies
// against the API, saves the session through session.Store, refreshes it
// once it is older than the configured maximum age and supersedes it on
// logout.
package auth
