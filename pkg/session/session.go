package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"igpulse/pkg/checkpoint"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
)

const (
	fileName        = "session.json"
	backupDirName   = "session_backups"
	backupPrefix    = "session_"
	backupTimestamp = "20060102_150405"
)

// Session is the credential bundle that lets the client act as a logged-in
// user: browser cookies plus the device identifiers sent with each request.
type Session struct {
	Username  string            `json:"username"`
	UserID    string            `json:"user_id"`
	Cookies   map[string]string `json:"cookies"`
	UUID      string            `json:"uuid"`
	PhoneID   string            `json:"phone_id"`
	DeviceID  string            `json:"device_id"`
	UserAgent string            `json:"user_agent,omitempty"`
	CreatedTS int64             `json:"created_ts"`
}

// SessionID returns the sessionid cookie
func (s *Session) SessionID() string {
	return s.Cookies["sessionid"]
}

// CSRFToken returns the csrftoken cookie
func (s *Session) CSRFToken() string {
	return s.Cookies["csrftoken"]
}

// Valid reports whether the session carries the cookie needed to authenticate
func (s *Session) Valid() bool {
	return s != nil && s.SessionID() != ""
}

// EnsureDeviceIDs fills in any missing device identifiers. Existing values are
// kept so refreshes look like the same device.
func (s *Session) EnsureDeviceIDs() {
	if s.UUID == "" {
		s.UUID = uuid.NewString()
	}
	if s.PhoneID == "" {
		s.PhoneID = uuid.NewString()
	}
	if s.DeviceID == "" {
		s.DeviceID = "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
}

// Options configure a Store
type Options struct {
	// MaxAge is how old a session may get before it should be refreshed
	MaxAge time.Duration
	// MaxBackups bounds the backup directory; zero keeps every backup
	MaxBackups int
	Logger     logger.Logger
	// Now overrides the clock in tests
	Now func() time.Time
}

// Store persists sessions under a directory: the current session in
// session.json and timestamped copies in session_backups/.
type Store struct {
	dir        string
	maxAge     time.Duration
	maxBackups int
	logger     logger.Logger
	now        func() time.Time
}

// NewStore creates a session store rooted at dir
func NewStore(dir string, opts Options) *Store {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		dir:        dir,
		maxAge:     opts.MaxAge,
		maxBackups: opts.MaxBackups,
		logger:     logger.OrDefault(opts.Logger).WithField("component", "session_store"),
		now:        opts.Now,
	}
}

// Path returns the primary session file path
func (s *Store) Path() string {
	return filepath.Join(s.dir, fileName)
}

// BackupDir returns the directory holding session backups
func (s *Store) BackupDir() string {
	return filepath.Join(s.dir, backupDirName)
}

// Save writes the session as the current one and records a timestamped
// backup. created_ts is stamped when unset.
func (s *Store) Save(sess *Session) error {
	if sess == nil {
		return igerrors.New(igerrors.ErrorTypeSession, "cannot save nil session")
	}
	if sess.CreatedTS == 0 {
		sess.CreatedTS = s.now().Unix()
	}

	if err := os.MkdirAll(s.BackupDir(), 0700); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to create session directory")
	}

	if err := checkpoint.WriteJSON(s.Path(), sess, 0600); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to save session")
	}

	backup := s.nextBackupPath()
	if err := checkpoint.WriteJSON(backup, sess, 0600); err != nil {
		// The primary is already durable, so a failed backup is not fatal
		s.logger.WithError(err).Warn("Failed to write session backup")
	}

	s.logger.InfoWithFields("Session saved", map[string]interface{}{
		"username": sess.Username,
		"backup":   filepath.Base(backup),
	})

	if s.maxBackups > 0 {
		if _, err := s.PruneBackups(s.maxBackups); err != nil {
			s.logger.WithError(err).Warn("Failed to prune session backups")
		}
	}

	return nil
}

// nextBackupPath returns a backup path for the current second that does not
// collide with an existing file.
func (s *Store) nextBackupPath() string {
	stamp := s.now().Format(backupTimestamp)
	path := filepath.Join(s.BackupDir(), backupPrefix+stamp+".json")
	for i := 1; checkpoint.Exists(path); i++ {
		path = filepath.Join(s.BackupDir(), fmt.Sprintf("%s%s_%d.json", backupPrefix, stamp, i))
	}
	return path
}

// Load returns the current session. A missing or corrupt primary file falls
// back to the most recently modified backup that parses. When nothing usable
// exists the error matches errors.ErrSessionNotFound.
func (s *Store) Load() (*Session, error) {
	sess, err := readSession(s.Path())
	if err == nil {
		return sess, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		s.logger.WithError(err).Warn("Session file unreadable, trying backups")
	}

	backups, listErr := s.Backups()
	if listErr != nil {
		return nil, igerrors.Wrap(listErr, igerrors.ErrorTypeSession, "failed to list session backups")
	}

	for _, path := range backups {
		sess, err := readSession(path)
		if err != nil {
			s.logger.WithError(err).WarnWithFields("Skipping unreadable session backup", map[string]interface{}{
				"backup": filepath.Base(path),
			})
			continue
		}
		s.logger.InfoWithFields("Session recovered from backup", map[string]interface{}{
			"backup":   filepath.Base(path),
			"username": sess.Username,
		})
		return sess, nil
	}

	return nil, igerrors.ErrSessionNotFound
}

func readSession(path string) (*Session, error) {
	var sess Session
	if err := checkpoint.ReadJSON(path, &sess); err != nil {
		return nil, err
	}
	if !sess.Valid() {
		return nil, fmt.Errorf("%s has no sessionid cookie", filepath.Base(path))
	}
	return &sess, nil
}

// Backups lists backup files, newest modification time first
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var found []backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{path: filepath.Join(s.BackupDir(), name), modTime: info.ModTime()})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].modTime.Equal(found[j].modTime) {
			return found[i].path > found[j].path
		}
		return found[i].modTime.After(found[j].modTime)
	})

	paths := make([]string, len(found))
	for i, b := range found {
		paths[i] = b.path
	}
	return paths, nil
}

// PruneBackups removes the oldest backups beyond keep and returns how many
// were deleted.
func (s *Store) PruneBackups(keep int) (int, error) {
	backups, err := s.Backups()
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(backups) <= keep {
		return 0, nil
	}

	removed := 0
	var errs []error
	for _, path := range backups[keep:] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Supersede retires the current session on logout. The primary file is
// copied into the backups before being removed, so nothing is lost.
func (s *Store) Supersede() error {
	if !checkpoint.Exists(s.Path()) {
		return nil
	}

	backup := s.nextBackupPath()
	if err := checkpoint.CopyFile(s.Path(), backup, 0600); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to back up session before logout")
	}
	if err := os.Remove(s.Path()); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to remove session file")
	}

	s.logger.InfoWithFields("Session superseded", map[string]interface{}{
		"backup": filepath.Base(backup),
	})
	return nil
}

// AgeHours returns how many hours ago the session was created
func (s *Store) AgeHours(sess *Session) float64 {
	if sess == nil || sess.CreatedTS == 0 {
		return 0
	}
	return float64(s.now().Unix()-sess.CreatedTS) / 3600
}

// IsStale reports whether the session is older than the refresh threshold
func (s *Store) IsStale(sess *Session) bool {
	return s.AgeHours(sess) > s.maxAge.Hours()
}
