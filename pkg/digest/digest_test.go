package digest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igpulse/pkg/config"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/scoring"
)

func scored(id string, score float64) scoring.ScoredPost {
	return scoring.ScoredPost{Post: scoring.Post{PostID: id}, FinalScore: score}
}

func post(id, code, caption string) models.NormalizedPost {
	return models.NormalizedPost{
		PostID:       id,
		Shortcode:    code,
		Caption:      caption,
		MediaType:    models.MediaPhoto,
		LikeCount:    10,
		CommentCount: 2,
		TakenAt:      time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC),
		Images:       []models.Image{{URL: "https://cdn.test/" + id + ".jpg"}},
	}
}

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 250)

	assert.Equal(t, strings.Repeat("a", 50)+"...", Truncate(long, Short))
	assert.Equal(t, strings.Repeat("a", 200)+"...", Truncate(long, Medium))
	assert.Equal(t, long, Truncate(long, Long))

	exact := strings.Repeat("b", 50)
	assert.Equal(t, exact, Truncate(exact, Short), "no marker at exactly the limit")

	emoji := strings.Repeat("🎉", 60)
	assert.Equal(t, strings.Repeat("🎉", 50)+"...", Truncate(emoji, Short), "cut on runes")
}

func TestParseSummaryLength(t *testing.T) {
	assert.Equal(t, Short, ParseSummaryLength("SHORT"))
	assert.Equal(t, Long, ParseSummaryLength(" long "))
	assert.Equal(t, Medium, ParseSummaryLength("medium"))
	assert.Equal(t, Medium, ParseSummaryLength(""))
	assert.Equal(t, Medium, ParseSummaryLength("huge"))
}

func TestSummarize(t *testing.T) {
	p := post("1", "", "hello")
	p.MediaType = models.MediaAlbum

	s := Summarize(p, Medium)
	assert.Equal(t, "https://www.instagram.com/p/B/", s.URL, "url derived from the id")
	assert.Equal(t, "Carousel", s.MediaType)
	assert.Equal(t, "2024-06-01 18:30", s.Date)
	assert.Equal(t, 10, s.Likes)
	assert.Equal(t, 2, s.Comments)
}

func TestFormatSinglePost(t *testing.T) {
	caption := strings.Repeat("x", 120)
	n := FormatNotification([]models.NormalizedPost{post("1", "ABC", caption)}, "alice", Short, true)
	require.NotNil(t, n)

	assert.True(t, strings.HasPrefix(n.Text, "📸 New post from @alice!"))
	assert.Contains(t, n.Text, "Photo")
	assert.Contains(t, n.Text, "10 likes | 💬 2 comments")
	assert.Contains(t, n.Text, strings.Repeat("x", 50)+"...")
	assert.NotContains(t, n.Text, strings.Repeat("x", 51))
	assert.True(t, strings.HasSuffix(n.Text, "🔗 https://www.instagram.com/p/ABC/"))
	assert.Equal(t, "https://cdn.test/1.jpg", n.ImageURL)

	n = FormatNotification([]models.NormalizedPost{post("1", "ABC", caption)}, "alice", Long, false)
	assert.Contains(t, n.Text, caption)
	assert.Empty(t, n.ImageURL)
}

func TestFormatMultiplePosts(t *testing.T) {
	var posts []models.NormalizedPost
	for i, code := range []string{"A1", "A2", "A3", "A4", "A5"} {
		posts = append(posts, post(string(rune('1'+i)), code, strings.Repeat("y", 80)))
	}

	n := FormatNotification(posts, "bob", Long, true)
	require.NotNil(t, n)

	assert.True(t, strings.HasPrefix(n.Text, "📸 5 new posts from @bob!"))
	assert.Contains(t, n.Text, "1. Photo (2024-06-01 18:30): ")
	assert.Contains(t, n.Text, "3. Photo")
	assert.NotContains(t, n.Text, "4. Photo")
	assert.Contains(t, n.Text, "https://www.instagram.com/p/A3/")
	assert.NotContains(t, n.Text, "https://www.instagram.com/p/A4/")
	assert.NotContains(t, n.Text, strings.Repeat("y", 51), "multi-post lists always use short captions")
	assert.True(t, strings.HasSuffix(n.Text, "... and 2 more posts."))
	assert.Equal(t, "https://cdn.test/1.jpg", n.ImageURL)

	n = FormatNotification(posts[:2], "bob", Short, true)
	assert.NotContains(t, n.Text, "more posts")
}

func TestFormatNoPosts(t *testing.T) {
	assert.Nil(t, FormatNotification(nil, "alice", Medium, true))
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	l.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, l.MarkDelivered(ctx, "alice", []scoring.ScoredPost{scored("1", 0.9), scored("2", 0.5)}))

	delivered, err := l.IsDelivered(ctx, "alice", "1")
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = l.IsDelivered(ctx, "bob", "1")
	require.NoError(t, err)
	assert.False(t, delivered, "ledger is per account")

	rest, err := l.FilterUndelivered(ctx, "alice", []scoring.ScoredPost{scored("3", 0.8), scored("1", 0.9), scored("4", 0.1)})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "3", rest[0].Post.PostID)
	assert.Equal(t, "4", rest[1].Post.PostID)

	// Re-delivery keeps the first record
	l.now = func() time.Time { return time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, l.MarkDelivered(ctx, "alice", []scoring.ScoredPost{scored("1", 0.1), scored("3", 0.8)}))

	history, err := l.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "3", history[0].PostID)
	for _, d := range history {
		if d.PostID == "1" {
			assert.Equal(t, 0.9, d.Score)
			assert.True(t, d.DeliveredAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
		}
	}

	removed, err := l.Prune(ctx, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	history, err = l.History(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedgerPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "digest.db")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.MarkDelivered(ctx, "alice", []scoring.ScoredPost{scored("1", 0.5)}))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	delivered, err := l.IsDelivered(ctx, "alice", "1")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestInMemoryLedger(t *testing.T) {
	l, err := OpenLedger(":memory:")
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.MarkDelivered(context.Background(), "a", []scoring.ScoredPost{scored("1", 0.5)}))
	delivered, err := l.IsDelivered(context.Background(), "a", "1")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestBuilder(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	tl := logger.NewTestLogger()
	b := NewBuilder(l, config.DigestConfig{TopN: 2, SummaryLength: "short"}, 0.3, tl)

	ranked := []scoring.ScoredPost{scored("1", 0.9), scored("2", 0.7), scored("3", 0.5), scored("4", 0.2)}
	index := PostIndex([]models.NormalizedPost{post("1", "C1", "first"), post("2", "C2", "second"), post("3", "C3", "third"), post("4", "C4", "fourth")})

	d, err := b.Build(ctx, "alice", ranked, index)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"1", "2"}, d.PostIDs())
	assert.Contains(t, d.Notification.Text, "2 new posts from @alice")
	assert.True(t, tl.HasMessage("Digest built"))

	// Nothing is recorded until the digest is marked delivered
	again, err := b.Build(ctx, "alice", ranked, index)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, again.PostIDs())

	require.NoError(t, b.MarkDelivered(ctx, d))

	next, err := b.Build(ctx, "alice", ranked, index)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, []string{"3"}, next.PostIDs(), "post 4 is below the minimum score")
	assert.Contains(t, next.Notification.Text, "New post from @alice")

	require.NoError(t, b.MarkDelivered(ctx, next))
	none, err := b.Build(ctx, "alice", ranked, index)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBuilderWithoutLedger(t *testing.T) {
	b := NewBuilder(nil, config.DigestConfig{}, 0, logger.NewNopLogger())

	d, err := b.Build(context.Background(), "alice", []scoring.ScoredPost{scored("1", 0.4)}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Nil(t, d.Notification, "no records to render")
	assert.NoError(t, b.MarkDelivered(context.Background(), d))
}
