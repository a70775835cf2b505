package poststore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"igpulse/pkg/checkpoint"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
)

const (
	filePrefix      = "posts_"
	recoveryPrefix  = "recovery_"
	recoveryStamp   = "20060102_150405"
	defaultMaxPosts = 100
)

// CollectorInfo is the metadata header written at the top of every post file
type CollectorInfo struct {
	Username  string    `json:"username"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// File is the on-disk layout of a post file
type File struct {
	CollectorInfo CollectorInfo           `json:"collector_info"`
	Posts         []models.NormalizedPost `json:"posts"`
	LastUpdated   time.Time               `json:"last_updated"`
	TotalPosts    int                     `json:"total_posts"`
	Recovery      bool                    `json:"recovery,omitempty"`
}

// Store is the append-only sink for collected posts. Posts for one session
// are spread over numbered files, each holding at most maxPerFile posts.
// A Store is safe for concurrent use.
type Store struct {
	dir        string
	info       CollectorInfo
	maxPerFile int
	logger     logger.Logger
	now        func() time.Time

	mu        sync.Mutex
	sessionID string
	current   string
	inCurrent int
	files     []string
}

// New creates a post store writing under dir
func New(dir string, info CollectorInfo, maxPerFile int, log logger.Logger) *Store {
	if maxPerFile <= 0 {
		maxPerFile = defaultMaxPosts
	}
	return &Store{
		dir:        dir,
		info:       info,
		maxPerFile: maxPerFile,
		logger:     logger.OrDefault(log).WithField("component", "post_store"),
		now:        time.Now,
	}
}

// Dir returns the output directory
func (s *Store) Dir() string {
	return s.dir
}

// Initialize starts a new post file for sessionID and returns its path
func (s *Store) Initialize(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialize(sessionID)
}

func (s *Store) initialize(sessionID string) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to create output directory")
	}

	path := s.nextFilePath(sessionID)
	info := s.info
	info.SessionID = sessionID
	info.StartedAt = s.now().UTC()

	header := File{
		CollectorInfo: info,
		Posts:         []models.NormalizedPost{},
		LastUpdated:   info.StartedAt,
	}
	if err := checkpoint.WriteJSON(path, header, 0644); err != nil {
		return "", igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to initialize post file")
	}

	s.sessionID = sessionID
	s.current = path
	s.inCurrent = 0
	s.files = append(s.files, path)

	s.logger.InfoWithFields("Post file initialized", map[string]interface{}{
		"file":       filepath.Base(path),
		"session_id": sessionID,
	})
	return path, nil
}

func (s *Store) nextFilePath(sessionID string) string {
	for n := 1; ; n++ {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%s_%d.json", filePrefix, sessionID, n))
		if !checkpoint.Exists(path) {
			return path
		}
	}
}

// CurrentFile returns the file that the next append goes to
func (s *Store) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Files returns every post file this store created, oldest first
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// AppendOne appends a single post
func (s *Store) AppendOne(post models.NormalizedPost) error {
	return s.Append([]models.NormalizedPost{post})
}

// Append adds posts to the current file, rotating to a new file whenever the
// current one is full. A batch may therefore be split across files.
func (s *Store) Append(posts []models.NormalizedPost) error {
	if len(posts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		return igerrors.New(igerrors.ErrorTypeStorage, "post store not initialized")
	}

	for len(posts) > 0 {
		if s.inCurrent >= s.maxPerFile {
			if _, err := s.initialize(s.sessionID); err != nil {
				return err
			}
		}

		n := s.maxPerFile - s.inCurrent
		if n > len(posts) {
			n = len(posts)
		}
		if err := s.write(posts[:n]); err != nil {
			return err
		}
		posts = posts[n:]
	}
	return nil
}

// write extends the current file with chunk. If the current file cannot be
// read back, chunk goes to a recovery file and the store moves to a fresh
// file.
func (s *Store) write(chunk []models.NormalizedPost) error {
	var file File
	if err := checkpoint.ReadJSON(s.current, &file); err != nil {
		s.logger.WithError(err).ErrorWithFields("Post file unreadable, writing recovery file", map[string]interface{}{
			"file":  filepath.Base(s.current),
			"posts": len(chunk),
		})
		if recErr := s.writeRecovery(chunk); recErr != nil {
			return recErr
		}
		_, initErr := s.initialize(s.sessionID)
		return initErr
	}

	file.Posts = append(file.Posts, chunk...)
	file.LastUpdated = s.now().UTC()
	file.TotalPosts = len(file.Posts)

	if err := checkpoint.WriteJSON(s.current, file, 0644); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to write post file")
	}
	s.inCurrent = len(file.Posts)

	s.logger.DebugWithFields("Posts appended", map[string]interface{}{
		"file":  filepath.Base(s.current),
		"added": len(chunk),
		"total": file.TotalPosts,
	})
	return nil
}

func (s *Store) writeRecovery(posts []models.NormalizedPost) error {
	now := s.now().UTC()
	stamp := now.Format(recoveryStamp)
	path := filepath.Join(s.dir, fmt.Sprintf("%s%s_%s.json", recoveryPrefix, s.sessionID, stamp))
	for i := 1; checkpoint.Exists(path); i++ {
		path = filepath.Join(s.dir, fmt.Sprintf("%s%s_%s_%d.json", recoveryPrefix, s.sessionID, stamp, i))
	}

	info := s.info
	info.SessionID = s.sessionID
	info.StartedAt = now
	rec := File{
		CollectorInfo: info,
		Posts:         posts,
		LastUpdated:   now,
		TotalPosts:    len(posts),
		Recovery:      true,
	}
	if err := checkpoint.WriteJSON(path, rec, 0644); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to write recovery file")
	}

	s.logger.WarnWithFields("Recovery file written", map[string]interface{}{
		"file":  filepath.Base(path),
		"posts": len(posts),
	})
	return nil
}

// ReadFile loads a post or recovery file
func ReadFile(path string) (*File, error) {
	var file File
	if err := checkpoint.ReadJSON(path, &file); err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to read post file")
	}
	return &file, nil
}

// ListFiles returns the post files under dir, including recovery files,
// sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if strings.HasPrefix(name, filePrefix) || strings.HasPrefix(name, recoveryPrefix) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadPosts reads every post file under dir and returns the posts with
// duplicates removed, keeping the first copy of each post id.
func LoadPosts(dir string) ([]models.NormalizedPost, error) {
	paths, err := ListFiles(dir)
	if err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to list post files")
	}

	seen := make(map[string]bool)
	var posts []models.NormalizedPost
	for _, path := range paths {
		file, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, p := range file.Posts {
			if p.PostID != "" && seen[p.PostID] {
				continue
			}
			seen[p.PostID] = true
			posts = append(posts, p)
		}
	}
	return posts, nil
}
