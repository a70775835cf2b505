package collector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockInstagram simulates the private API endpoints the client talks to
type mockInstagram struct {
	server *httptest.Server

	mu        sync.RWMutex
	owner     string
	timeline  [][]map[string]interface{}
	users     map[string]string
	userFeeds map[string][]map[string]interface{}
	media     map[string]map[string]interface{}
	errors    map[string]int

	requestCount  int32
	rateLimitHits int32
	rateLimitNext int32
}

func newMockInstagram(t *testing.T, owner string) *mockInstagram {
	t.Helper()
	m := &mockInstagram{
		owner:     owner,
		users:     make(map[string]string),
		userFeeds: make(map[string][]map[string]interface{}),
		media:     make(map[string]map[string]interface{}),
		errors:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/current_user/", m.handleCurrentUser)
	mux.HandleFunc("/api/v1/feed/timeline/", m.handleTimeline)
	mux.HandleFunc("/api/v1/feed/user/", m.handleUserFeed)
	mux.HandleFunc("/api/v1/users/", m.handleUsernameInfo)
	mux.HandleFunc("/api/v1/media/", m.handleMediaInfo)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// URL is the API root to configure the client with
func (m *mockInstagram) URL() string {
	return m.server.URL + "/api/v1"
}

func mediaItem(id, author, caption string, likes int) map[string]interface{} {
	return map[string]interface{}{
		"pk":            id,
		"code":          "C" + id,
		"media_type":    1,
		"taken_at":      time.Now().Add(-2 * time.Hour).Unix(),
		"like_count":    likes,
		"comment_count": 2,
		"caption":       map[string]string{"text": caption},
		"user":          map[string]interface{}{"pk": "5" + id, "username": author},
	}
}

// AddTimelinePage appends a page of media to the home feed
func (m *mockInstagram) AddTimelinePage(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = append(m.timeline, items)
	for _, item := range items {
		m.media[item["pk"].(string)] = item
	}
}

// AddUser registers a profile and its posts
func (m *mockInstagram) AddUser(username, id string, items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = id
	m.userFeeds[id] = items
	for _, item := range items {
		m.media[item["pk"].(string)] = item
	}
}

// AddMedia makes items reachable through media info only
func (m *mockInstagram) AddMedia(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.media[item["pk"].(string)] = item
	}
}

// SetErrorResponse makes requests whose path contains pattern fail with code
func (m *mockInstagram) SetErrorResponse(pattern string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[pattern] = code
}

// RateLimitNext answers the next n requests with 429
func (m *mockInstagram) RateLimitNext(n int) {
	atomic.StoreInt32(&m.rateLimitNext, int32(n))
}

func (m *mockInstagram) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

func (m *mockInstagram) RateLimitHits() int {
	return int(atomic.LoadInt32(&m.rateLimitHits))
}

// intercept applies authentication, configured errors and rate limiting.
// It reports whether the request was answered.
func (m *mockInstagram) intercept(w http.ResponseWriter, r *http.Request) bool {
	atomic.AddInt32(&m.requestCount, 1)

	cookie, err := r.Cookie("sessionid")
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"status": "fail", "message": "login_required"})
		return true
	}

	m.mu.RLock()
	for pattern, code := range m.errors {
		if strings.Contains(r.URL.Path, pattern) {
			m.mu.RUnlock()
			writeJSON(w, code, map[string]interface{}{"status": "fail", "message": http.StatusText(code)})
			return true
		}
	}
	m.mu.RUnlock()

	for {
		n := atomic.LoadInt32(&m.rateLimitNext)
		if n <= 0 {
			break
		}
		if atomic.CompareAndSwapInt32(&m.rateLimitNext, n, n-1) {
			atomic.AddInt32(&m.rateLimitHits, 1)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"status":  "fail",
				"message": "Please wait a few minutes before you try again.",
			})
			return true
		}
	}
	return false
}

func (m *mockInstagram) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"user":   map[string]interface{}{"pk": 4242, "username": m.owner},
	})
}

func (m *mockInstagram) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"status": "fail"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"status": "fail"})
		return
	}

	page := 0
	if maxID := r.PostForm.Get("max_id"); maxID != "" {
		page, _ = strconv.Atoi(strings.TrimPrefix(maxID, "page"))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []map[string]interface{}
	if page < len(m.timeline) {
		items = m.timeline[page]
	}
	feedItems := make([]map[string]interface{}, 0, len(items)+1)
	for i, item := range items {
		feedItems = append(feedItems, map[string]interface{}{"media_or_ad": item})
		if i == 0 {
			// suggested users unit, carries no media
			feedItems = append(feedItems, map[string]interface{}{"suggested_users": map[string]interface{}{}})
		}
	}

	resp := map[string]interface{}{
		"status":         "ok",
		"feed_items":     feedItems,
		"num_results":    len(items),
		"more_available": page+1 < len(m.timeline),
	}
	if page+1 < len(m.timeline) {
		resp["next_max_id"] = "page" + strconv.Itoa(page+1)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *mockInstagram) handleUserFeed(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/feed/user/"), "/")

	m.mu.RLock()
	items, ok := m.userFeeds[id]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"status": "fail", "message": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"items":          items,
		"num_results":    len(items),
		"more_available": false,
	})
}

func (m *mockInstagram) handleUsernameInfo(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	// /api/v1/users/{username}/usernameinfo/
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"), "/"), "/")

	m.mu.RLock()
	id, ok := m.users[parts[0]]
	m.mu.RUnlock()
	if !ok || len(parts) != 2 || parts[1] != "usernameinfo" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"status": "fail", "message": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"user":   map[string]interface{}{"pk": id, "username": parts[0], "follower_count": 1000},
	})
}

func (m *mockInstagram) handleMediaInfo(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	// /api/v1/media/{id}/info/
	id := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/media/"), "/"), "/")[0]

	m.mu.RLock()
	item, ok := m.media[id]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"status": "fail", "message": "Media not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "items": []interface{}{item}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
