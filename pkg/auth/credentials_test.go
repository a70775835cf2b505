package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	account := &Account{
		Username:  "testuser",
		SessionID: "test_session_id_12345",
		CSRFToken: "test_csrf_token_67890",
		UserAgent: "TestAgent/1.0",
	}

	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.LastModified.IsZero() {
		t.Error("LastModified should be stamped on store")
	}

	retrieved, err := manager.Retrieve("testuser")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.SessionID != account.SessionID {
		t.Errorf("SessionID mismatch: got %s, want %s", retrieved.SessionID, account.SessionID)
	}
	if retrieved.CSRFToken != account.CSRFToken {
		t.Errorf("CSRFToken mismatch: got %s, want %s", retrieved.CSRFToken, account.CSRFToken)
	}

	accounts, err := manager.List()
	if err != nil {
		t.Fatalf("Failed to list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected 1 account in list, got %d", len(accounts))
	}

	if err := manager.Delete("testuser"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("testuser"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound after deletion, got %v", err)
	}
	if mockStore.Count() != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", mockStore.Count())
	}
	if err := manager.Delete("testuser"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound deleting twice, got %v", err)
	}
}

func TestStoreValidatesAccount(t *testing.T) {
	manager, _ := NewMockManager()

	tests := []*Account{
		{SessionID: "s", CSRFToken: "c"},
		{Username: "u", CSRFToken: "c"},
		{Username: "u", SessionID: "s"},
	}
	for i, account := range tests {
		if err := manager.Store(account); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("case %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
}

func TestManagerStoresInEveryWritableStore(t *testing.T) {
	first, second := NewMockStore(), NewMockStore()
	manager := NewManagerWithStores(first, NewEnvironmentStore(), second)

	if err := manager.Store(&Account{Username: "a", SessionID: "s", CSRFToken: "c"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if first.Count() != 1 || second.Count() != 1 {
		t.Errorf("expected both stores written, got %d and %d", first.Count(), second.Count())
	}

	first.StoreError = errors.New("keychain locked")
	if err := manager.Store(&Account{Username: "b", SessionID: "s", CSRFToken: "c"}); err != nil {
		t.Errorf("one failing store should not fail Store: %v", err)
	}

	second.StoreError = errors.New("disk full")
	if err := manager.Store(&Account{Username: "c", SessionID: "s", CSRFToken: "c"}); err == nil {
		t.Error("expected error when no store accepts the account")
	}
}

func TestManagerListMergesNewest(t *testing.T) {
	older, newer := NewMockStore(), NewMockStore()
	now := time.Now()
	_ = older.Store(&Account{Username: "bob", SessionID: "old", CSRFToken: "c", LastModified: now.Add(-time.Hour)})
	_ = newer.Store(&Account{Username: "bob", SessionID: "new", CSRFToken: "c", LastModified: now})
	_ = newer.Store(&Account{Username: "amy", SessionID: "s", CSRFToken: "c", LastModified: now.Add(-2 * time.Hour)})

	manager := NewManagerWithStores(older, newer)
	accounts, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Username != "amy" || accounts[1].Username != "bob" {
		t.Errorf("accounts not sorted by username: %s, %s", accounts[0].Username, accounts[1].Username)
	}
	if accounts[1].SessionID != "new" {
		t.Errorf("expected newest copy of bob, got %s", accounts[1].SessionID)
	}

	latest, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if latest.Username != "bob" {
		t.Errorf("expected most recent account bob, got %s", latest.Username)
	}
}

func TestAccountSessionRoundTrip(t *testing.T) {
	account := &Account{Username: "alice", UserID: "42", SessionID: "sid", CSRFToken: "tok", UserAgent: "ua"}
	sess := account.Session()

	if sess.SessionID() != "sid" || sess.CSRFToken() != "tok" {
		t.Errorf("cookies not carried into session: %v", sess.Cookies)
	}
	if sess.Cookies["ds_user_id"] != "42" {
		t.Errorf("ds_user_id cookie missing: %v", sess.Cookies)
	}

	back := AccountFromSession(sess)
	if *back != *account {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, account)
	}
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{Username: "u", SessionID: "1234567890abcdef", CSRFToken: "short"}
	sanitized := SanitizeAccount(account)

	if sanitized.SessionID != "1234...cdef" {
		t.Errorf("unexpected masked session id %q", sanitized.SessionID)
	}
	if sanitized.CSRFToken != "********" {
		t.Errorf("short values must be fully masked, got %q", sanitized.CSRFToken)
	}
	if sanitized.Username != "u" {
		t.Error("Username should not be masked")
	}
	if SanitizeAccount(nil) != nil {
		t.Error("nil account should stay nil")
	}
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "credentials.enc")

	store, err := NewEncryptedFileStore(path, "test_passphrase_123")
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	account := &Account{
		Username:  "encrypted_user",
		SessionID: "encrypted_session",
		CSRFToken: "encrypted_csrf",
	}
	if err := store.Store(account); err != nil {
		t.Fatalf("Failed to store in encrypted file: %v", err)
	}
	if err := store.Store(&Account{Username: "second", SessionID: "s2", CSRFToken: "c2"}); err != nil {
		t.Fatalf("Failed to store second account: %v", err)
	}

	retrieved, err := store.Retrieve("encrypted_user")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.SessionID != account.SessionID {
		t.Errorf("SessionID mismatch after encryption/decryption")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(content, []byte("encrypted_session")) {
		t.Error("File contains plaintext session ID")
	}
	if bytes.Contains(content, []byte("encrypted_csrf")) {
		t.Error("File contains plaintext CSRF token")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	wrong, err := NewEncryptedFileStore(path, "wrong_passphrase")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.Retrieve("encrypted_user"); err == nil {
		t.Error("expected decryption failure with the wrong passphrase")
	}

	if err := store.Delete("encrypted_user"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := store.Delete("second"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed with its last account")
	}
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	first, err := NewEncryptedFileStore(path, "")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := first.Store(&Account{Username: "u", SessionID: "s", CSRFToken: "c"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, passphraseFile)); err != nil {
		t.Fatalf("passphrase file not created: %v", err)
	}

	second, err := NewEncryptedFileStore(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Exists("u") {
		t.Error("a second store must reuse the generated passphrase")
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvSessionID, "env_session")
	t.Setenv(EnvCSRFToken, "env_csrf")
	t.Setenv(EnvUsername, "")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if account.SessionID != "env_session" {
		t.Errorf("SessionID mismatch: got %s, want env_session", account.SessionID)
	}
	if account.Username != "default" {
		t.Errorf("expected default username, got %s", account.Username)
	}

	t.Setenv(EnvUsername, "alice")
	if _, err := store.Retrieve("bob"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("environment credentials belong to alice, got %v", err)
	}
	if !store.Exists("alice") {
		t.Error("alice should exist")
	}

	if err := store.Store(&Account{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv(EnvSessionID, "env_session")
	t.Setenv(EnvCSRFToken, "env_csrf")
	t.Setenv(EnvUsername, "envuser")

	mock := NewMockStore()
	_ = mock.Store(&Account{Username: "stored", SessionID: "s", CSRFToken: "c", LastModified: time.Now()})
	manager := NewManagerWithStores(mock, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatal(err)
	}
	if account.Username != "envuser" {
		t.Errorf("expected environment account, got %s", account.Username)
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("mock keyring should be available: %v", err)
	}

	account := &Account{Username: "kr", SessionID: "s", CSRFToken: "c"}
	if err := store.Store(account); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !store.Exists("kr") {
		t.Error("account should exist")
	}

	got, err := store.Retrieve("kr")
	if err != nil || got.SessionID != "s" {
		t.Errorf("Retrieve = %+v, %v", got, err)
	}

	if err := store.Delete("kr"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, err := store.Retrieve("kr"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("expected ErrCredentialsNotFound, got %v", err)
	}
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	store.ListError = fmt.Errorf("injected error")

	if _, err := store.List(); err == nil || err.Error() != "injected error" {
		t.Error("Expected injected error")
	}

	manager := NewManagerWithStores(store)
	accounts, err := manager.List()
	if err != nil || len(accounts) != 0 {
		t.Errorf("a failing store is skipped when listing, got %v, %v", accounts, err)
	}
}

func TestCookieGuide(t *testing.T) {
	var buf bytes.Buffer
	ShowCookieExtractionGuide(&buf)
	if !strings.Contains(buf.String(), "sessionid") || !strings.Contains(buf.String(), "csrftoken") {
		t.Error("guide must name the required cookies")
	}

	buf.Reset()
	ShowQuickExtractGuide(&buf)
	if !strings.Contains(buf.String(), "sessionid") {
		t.Error("quick guide must name sessionid")
	}
}
