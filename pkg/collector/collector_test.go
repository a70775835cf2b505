package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igpulse/pkg/config"
	"igpulse/pkg/crawler"
	"igpulse/pkg/digest"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/scoring"
	"igpulse/pkg/session"
)

func mobilePost(id, author, caption string, likes int) models.RawPost {
	payload, _ := json.Marshal(map[string]interface{}{
		"pk":            id,
		"code":          "C" + id,
		"media_type":    1,
		"taken_at":      time.Now().Add(-time.Hour).Unix(),
		"like_count":    likes,
		"comment_count": 1,
		"caption":       map[string]string{"text": caption},
		"user":          map[string]interface{}{"pk": "9" + id, "username": author},
	})
	return models.RawPost{Format: models.FormatMobile, Payload: payload}
}

type pagedSource struct {
	pages []crawler.Page
	calls int
	err   error
}

func (s *pagedSource) FetchPage(ctx context.Context, cursor string) (crawler.Page, error) {
	if s.calls >= len(s.pages) {
		if s.err != nil {
			return crawler.Page{}, s.err
		}
		return crawler.Page{}, nil
	}
	p := s.pages[s.calls]
	s.calls++
	return p, nil
}

type fakeNotifier struct {
	sent []*digest.Notification
	err  error
}

func (n *fakeNotifier) SendDigest(account string, note *digest.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func quickConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Output.Directory = filepath.Join(dir, "posts")
	cfg.Session.Directory = filepath.Join(dir, "session")
	cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay = 0, 0
	cfg.Pacing.StartupMin, cfg.Pacing.StartupMax = 0, 0
	cfg.Pacing.RetryDelay = time.Millisecond
	cfg.Crawl.MaxRetries = 1
	cfg.Crawl.BatchSize = 10
	cfg.Scoring.CloseFriends = []string{"bestie"}
	return cfg
}

type harness struct {
	collector *Collector
	source    *pagedSource
	notifier  *fakeNotifier
	ledger    *digest.Ledger
	logins    []string
}

func newHarness(t *testing.T, pages ...crawler.Page) *harness {
	t.Helper()
	ledger, err := digest.OpenLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	h := &harness{
		source:   &pagedSource{pages: pages},
		notifier: &fakeNotifier{},
		ledger:   ledger,
	}
	h.collector = New(Options{
		Config:   quickConfig(t),
		Ledger:   ledger,
		Notifier: h.notifier,
		Logger:   logger.NewNopLogger(),
		Login: func(ctx context.Context, account string) (*session.Session, error) {
			h.logins = append(h.logins, account)
			name := account
			if name == "" {
				name = "Owner"
			}
			return &session.Session{Username: name, UserID: "1", Cookies: map[string]string{"sessionid": "s"}}, nil
		},
		Sources: func(ctx context.Context, sess *session.Session, target Target) (crawler.PageSource, error) {
			if target.Kind == TargetUser && target.Username == "ghost" {
				return nil, igerrors.New(igerrors.ErrorTypeNotFound, "user not found")
			}
			return h.source, nil
		},
	})
	return h
}

func TestNormalizeAccountAndDirs(t *testing.T) {
	h := newHarness(t)
	cfg := h.collector.Config()

	assert.Equal(t, "alice", NormalizeAccount(" @Alice "))
	assert.Equal(t, filepath.Join(cfg.Output.Directory, "alice"), h.collector.OutputDir("@Alice"))
	assert.Equal(t, cfg.Output.Directory, h.collector.OutputDir(""))
	assert.Equal(t, filepath.Join(cfg.Session.Directory, "bob"), h.collector.SessionDir("BOB"))
	assert.Equal(t, filepath.Join(cfg.Session.Directory, "bob", "session.json"), h.collector.SessionStore("bob").Path())
}

func TestCollectWritesPosts(t *testing.T) {
	h := newHarness(t,
		crawler.Page{Items: []models.RawPost{mobilePost("1", "a", "hi", 10), mobilePost("2", "b", "yo", 5)}, NextCursor: "c1"},
		crawler.Page{Items: []models.RawPost{mobilePost("3", "c", "hey", 1)}},
	)

	result, err := h.collector.Collect(context.Background(), "@Alice", Timeline(), 10)
	require.NoError(t, err)

	assert.Equal(t, "alice", result.Account)
	assert.Equal(t, []string{"alice"}, h.logins)
	require.Len(t, result.Posts, 3)
	assert.Equal(t, 3, result.Stats.Collected)
	assert.NotEmpty(t, result.Files)

	stored, err := h.collector.StoredPosts("alice")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestCollectDefaultsAccountToSessionUser(t *testing.T) {
	h := newHarness(t, crawler.Page{Items: []models.RawPost{mobilePost("1", "a", "hi", 1)}})

	result, err := h.collector.Collect(context.Background(), "", Timeline(), 5)
	require.NoError(t, err)
	assert.Equal(t, "owner", result.Account)
	assert.Equal(t, h.collector.OutputDir("owner"), result.OutputDir)
}

func TestCollectUnknownUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.collector.Collect(context.Background(), "alice", User("ghost"), 5)
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeNotFound))
}

func TestCollectLoginFailure(t *testing.T) {
	h := newHarness(t)
	h.collector.login = func(ctx context.Context, account string) (*session.Session, error) {
		return nil, igerrors.New(igerrors.ErrorTypeAuth, "expired")
	}
	result, err := h.collector.Collect(context.Background(), "alice", Timeline(), 5)
	assert.Nil(t, result)
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeAuth))
}

func TestStoredPostsMissingDirectory(t *testing.T) {
	h := newHarness(t)
	posts, err := h.collector.StoredPosts("nobody")
	assert.NoError(t, err)
	assert.Empty(t, posts)
}

func TestScoreSkipsSponsoredAndStubs(t *testing.T) {
	h := newHarness(t)
	posts := []models.NormalizedPost{
		{PostID: "1", Author: models.Author{Username: "bestie"}, Caption: "event tonight", TakenAt: time.Now(), LikeCount: 3},
		{PostID: "2", Author: models.Author{Username: "brand"}, IsSponsored: true},
		{PostID: "3", ParseError: "bad json"},
		{PostID: "4", Author: models.Author{Username: "stranger"}, TakenAt: time.Now().Add(-72 * time.Hour)},
	}

	ranked := h.collector.Score(posts)
	require.Len(t, ranked, 2)
	assert.Equal(t, "1", ranked[0].Post.PostID, "close friend with event keyword ranks first")
	assert.True(t, ranked[0].Post.IsCloseFriend)
	assert.GreaterOrEqual(t, ranked[0].FinalScore, ranked[1].FinalScore)
}

func TestScoreUsesFollowerCounts(t *testing.T) {
	h := newHarness(t)
	h.collector.Config().Scoring.FollowerCounts = map[string]int{"Photog": 100000}
	h.collector.RememberFollowers("@Explorer", 20000)

	posts := []models.NormalizedPost{
		{PostID: "1", Author: models.Author{Username: "photog"}, LikeCount: 9000, CommentCount: 1000, TakenAt: time.Now()},
		{PostID: "2", Author: models.Author{Username: "explorer"}, LikeCount: 300, CommentCount: 100, TakenAt: time.Now()},
		{PostID: "3", Author: models.Author{Username: "quiet"}, LikeCount: 9000, TakenAt: time.Now()},
	}

	byID := make(map[string]scoring.ScoredPost)
	for _, sp := range h.collector.Score(posts) {
		byID[sp.Post.PostID] = sp
	}
	require.Len(t, byID, 3)

	assert.Equal(t, 0.8, byID["1"].ComponentScores.EngagementRatio)
	assert.Equal(t, 0.4, byID["1"].ComponentScores.ContentSignal, "captionless post with high engagement")
	assert.Equal(t, 0.5, byID["2"].ComponentScores.EngagementRatio)
	assert.Equal(t, 0.2, byID["3"].ComponentScores.EngagementRatio, "unknown follower count")
	assert.Greater(t, byID["1"].FinalScore, byID["3"].FinalScore)
}

func TestRememberFollowersPersists(t *testing.T) {
	h := newHarness(t)
	h.collector.RememberFollowers("NatGeo", 5000)
	h.collector.RememberFollowers("nobody", 0)

	reopened := New(Options{Config: h.collector.Config(), Logger: logger.NewNopLogger()})
	counts := reopened.FollowerCounts()
	assert.Equal(t, map[string]int{"natgeo": 5000}, counts)
}

func TestDeliverMarksOnlyAfterSend(t *testing.T) {
	h := newHarness(t)
	posts := []models.NormalizedPost{
		{PostID: "1", Shortcode: "A", Author: models.Author{Username: "bestie"}, Caption: "hello", TakenAt: time.Now()},
	}
	ranked := h.collector.Score(posts)

	h.notifier.err = errors.New("no display")
	d, err := h.collector.Deliver(context.Background(), "alice", posts, ranked)
	require.Error(t, err)
	require.NotNil(t, d)
	delivered, err := h.ledger.IsDelivered(context.Background(), "alice", "1")
	require.NoError(t, err)
	assert.False(t, delivered, "failed send must not mark posts")

	h.notifier.err = nil
	d, err = h.collector.Deliver(context.Background(), "alice", posts, ranked)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"1"}, d.PostIDs())
	require.Len(t, h.notifier.sent, 1)

	d, err = h.collector.Deliver(context.Background(), "alice", posts, ranked)
	require.NoError(t, err)
	assert.Nil(t, d, "already delivered")
}

func TestRunDeliversNewPostsOnce(t *testing.T) {
	items := []models.RawPost{mobilePost("1", "bestie", "birthday party!", 50), mobilePost("2", "x", "meh", 0)}
	h := newHarness(t, crawler.Page{Items: items})

	require.NoError(t, h.collector.Run(context.Background(), "alice"))
	require.Len(t, h.notifier.sent, 1)

	h.source.pages = append(h.source.pages, crawler.Page{Items: items})
	require.NoError(t, h.collector.Run(context.Background(), "alice"))
	assert.Len(t, h.notifier.sent, 1, "second run finds nothing new")
}

func TestRunDeliversPartialCrawl(t *testing.T) {
	h := newHarness(t, crawler.Page{Items: []models.RawPost{mobilePost("1", "a", "hi", 1)}, NextCursor: "next"})
	h.source.err = igerrors.New(igerrors.ErrorTypeAuth, "login_required")

	err := h.collector.Run(context.Background(), "alice")
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeAuth))
	assert.Len(t, h.notifier.sent, 1, "posts gathered before the failure are delivered")
}

type mapFetcher map[string]models.RawPost

func (m mapFetcher) FetchPost(ctx context.Context, id string) (models.RawPost, error) {
	raw, ok := m[id]
	if !ok {
		return models.RawPost{}, igerrors.New(igerrors.ErrorTypeNotFound, fmt.Sprintf("%s not found", id))
	}
	return raw, nil
}

func TestFetchPostsSkipsStored(t *testing.T) {
	h := newHarness(t)
	h.collector.fetchers = func(sess *session.Session) crawler.PostFetcher {
		return mapFetcher{"1": mobilePost("1", "a", "x", 1), "2": mobilePost("2", "b", "y", 2)}
	}

	result, err := h.collector.FetchPosts(context.Background(), "alice", []string{"1", "2"})
	require.NoError(t, err)
	assert.Len(t, result.Posts, 2)
	assert.Len(t, result.Files, 1)

	result, err = h.collector.FetchPosts(context.Background(), "alice", []string{"1", "C2", "9"})
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeNotFound))
	assert.Empty(t, result.Posts, "stored posts are skipped by id and shortcode")
}
