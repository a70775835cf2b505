package auth

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"igpulse/pkg/checkpoint"
	"igpulse/pkg/logger"
	"igpulse/pkg/session"
)

// Account is the browser cookie bundle a session is minted from
type Account struct {
	Username     string    `json:"username"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that the cookies needed to authenticate are present
func (a *Account) Validate() error {
	if a == nil || a.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	if a.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", ErrInvalidCredentials)
	}
	if a.CSRFToken == "" {
		return fmt.Errorf("%w: CSRF token is required", ErrInvalidCredentials)
	}
	return nil
}

// Session builds a fresh session from the account's cookies. Device
// identifiers are left empty for the caller to assign or carry over.
func (a *Account) Session() *session.Session {
	cookies := map[string]string{
		"sessionid": a.SessionID,
		"csrftoken": a.CSRFToken,
	}
	if a.UserID != "" {
		cookies["ds_user_id"] = a.UserID
	}
	return &session.Session{
		Username:  a.Username,
		UserID:    a.UserID,
		Cookies:   cookies,
		UserAgent: a.UserAgent,
	}
}

// AccountFromSession extracts the stored cookie bundle from a session
func AccountFromSession(sess *session.Session) *Account {
	return &Account{
		Username:  sess.Username,
		UserID:    sess.UserID,
		SessionID: sess.SessionID(),
		CSRFToken: sess.CSRFToken(),
		UserAgent: sess.UserAgent,
	}
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific username
	Retrieve(username string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific username
	Delete(username string) error

	// Exists checks if credentials exist for a username
	Exists(username string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
	logger logger.Logger
}

// NewManager creates a credential manager rooted at dir: the system
// keychain when available, an encrypted file under dir, and the
// environment as a read-only last resort. An empty dir uses the user data
// directory.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	log = logger.OrDefault(log).WithField("component", "credentials")

	if dir == "" {
		var err error
		if dir, err = checkpoint.DataDir(); err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
	}

	var stores []CredentialStore
	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	} else {
		log.WithError(err).Debug("System keychain unavailable")
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores, logger: log}, nil
}

// NewManagerWithStores creates a Manager over explicit stores, tried in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores, logger: logger.NewNopLogger()}
}

// Store saves credentials in every writable store. The keychain does not
// support listing, so the encrypted file keeps an index copy.
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	account.LastModified = time.Now()

	stored := false
	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err != nil {
			if !errors.Is(err, ErrStoreUnavailable) {
				lastErr = err
			}
			continue
		}
		stored = true
	}

	if stored {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(username); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault returns the environment credentials when set, otherwise
// the most recently modified stored account.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrCredentialsNotFound
	}

	latest := accounts[0]
	for _, account := range accounts[1:] {
		if account.LastModified.After(latest.LastModified) {
			latest = account
		}
	}
	return latest, nil
}

// List returns all stored accounts across stores, one per username,
// sorted by username
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			m.logger.WithError(err).Debug("Credential store listing failed")
			continue
		}
		for _, account := range accounts {
			if existing, ok := accountMap[account.Username]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Username] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(username)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
	}

	return nil
}

// SanitizeAccount creates a copy of the account with sensitive data masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Username:     account.Username,
		UserID:       account.UserID,
		SessionID:    maskString(account.SessionID),
		CSRFToken:    maskString(account.CSRFToken),
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
