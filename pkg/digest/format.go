package digest

import (
	"fmt"
	"strings"

	"igpulse/pkg/instagram"
	"igpulse/pkg/models"
	"igpulse/pkg/normalize"
)

// SummaryLength controls how much of a caption a notification shows
type SummaryLength string

const (
	Short  SummaryLength = "short"
	Medium SummaryLength = "medium"
	Long   SummaryLength = "long"
)

// ParseSummaryLength maps a config value to a SummaryLength, defaulting to
// medium
func ParseSummaryLength(s string) SummaryLength {
	switch SummaryLength(strings.ToLower(strings.TrimSpace(s))) {
	case Short:
		return Short
	case Long:
		return Long
	default:
		return Medium
	}
}

// limit returns the caption cut-off in runes, 0 for none
func (l SummaryLength) limit() int {
	switch l {
	case Short:
		return 50
	case Long:
		return 0
	default:
		return 200
	}
}

// Truncate shortens caption to the length's limit, marking the cut with "..."
func Truncate(caption string, length SummaryLength) string {
	max := length.limit()
	runes := []rune(caption)
	if max == 0 || len(runes) <= max {
		return caption
	}
	return string(runes[:max]) + "..."
}

// Summary is the short description of one post used in notifications
type Summary struct {
	URL       string
	Date      string
	MediaType string
	Likes     int
	Comments  int
	Caption   string
}

// Summarize describes post with its caption cut to length
func Summarize(post models.NormalizedPost, length SummaryLength) Summary {
	date := ""
	if !post.TakenAt.IsZero() {
		date = post.TakenAt.Format("2006-01-02 15:04")
	}
	return Summary{
		URL:       postURL(post),
		Date:      date,
		MediaType: mediaLabel(post.MediaType),
		Likes:     post.LikeCount,
		Comments:  post.CommentCount,
		Caption:   Truncate(post.Caption, length),
	}
}

func postURL(post models.NormalizedPost) string {
	code := post.Shortcode
	if code == "" && post.PostID != "" {
		code, _ = normalize.IDToShortcode(post.PostID)
	}
	return instagram.GetPostURL(code)
}

func mediaLabel(t models.MediaType) string {
	switch t {
	case models.MediaPhoto:
		return "Photo"
	case models.MediaVideo:
		return "Video"
	case models.MediaAlbum:
		return "Carousel"
	default:
		return "Unknown"
	}
}

// Notification is a ready-to-send message
type Notification struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

// maxListed is how many posts a multi-post notification spells out
const maxListed = 3

// FormatNotification renders posts from username as one message. A single
// post gets a full summary at the requested length; several posts are
// listed briefly, at most three, with a count of the rest. It returns nil
// for no posts.
func FormatNotification(posts []models.NormalizedPost, username string, length SummaryLength, includeImages bool) *Notification {
	if len(posts) == 0 {
		return nil
	}

	var b strings.Builder
	if len(posts) == 1 {
		s := Summarize(posts[0], length)
		fmt.Fprintf(&b, "📸 New post from @%s!\n\n", username)
		fmt.Fprintf(&b, "📅 %s\n", s.Date)
		fmt.Fprintf(&b, "🖼️ %s\n", s.MediaType)
		fmt.Fprintf(&b, "❤️ %d likes | 💬 %d comments\n\n", s.Likes, s.Comments)
		fmt.Fprintf(&b, "📝 %s\n\n", s.Caption)
		fmt.Fprintf(&b, "🔗 %s", s.URL)
	} else {
		fmt.Fprintf(&b, "📸 %d new posts from @%s!\n\n", len(posts), username)
		for i, post := range posts {
			if i == maxListed {
				break
			}
			s := Summarize(post, Short)
			fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, s.MediaType, s.Date, s.Caption)
			fmt.Fprintf(&b, "   ❤️ %d | 💬 %d | 🔗 %s\n\n", s.Likes, s.Comments, s.URL)
		}
		if len(posts) > maxListed {
			fmt.Fprintf(&b, "... and %d more posts.", len(posts)-maxListed)
		}
	}

	n := &Notification{Text: b.String()}
	if includeImages && len(posts[0].Images) > 0 {
		n.ImageURL = posts[0].Images[0].URL
	}
	return n
}
