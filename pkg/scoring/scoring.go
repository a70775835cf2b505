package scoring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"igpulse/pkg/config"
	"igpulse/pkg/models"
)

// Weights are the factors of the final weighted sum. They must add up to 1.
type Weights struct {
	User       float64 `json:"user_signal"`
	Content    float64 `json:"content_signal"`
	Keyword    float64 `json:"keyword_relevance"`
	Engagement float64 `json:"engagement_ratio"`
	Recency    float64 `json:"recency"`
}

// DefaultWeights returns the standard weighting
func DefaultWeights() Weights {
	return Weights{User: 0.30, Content: 0.25, Keyword: 0.20, Engagement: 0.15, Recency: 0.10}
}

// WeightsFromConfig converts configured weights
func WeightsFromConfig(c config.ScoringWeights) Weights {
	return Weights{User: c.User, Content: c.Content, Keyword: c.Keyword, Engagement: c.Engagement, Recency: c.Recency}
}

const weightTolerance = 1e-9

// Validate checks that every weight is in [0,1] and that they sum to 1
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"user": w.User, "content": w.Content, "keyword": w.Keyword,
		"engagement": w.Engagement, "recency": w.Recency,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight %.3f out of range [0,1]", name, v)
		}
	}
	sum := w.User + w.Content + w.Keyword + w.Engagement + w.Recency
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// Thresholds are engagement ratios relative to follower count
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds returns 5%, 2% and 1% of followers
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.05, Medium: 0.02, Low: 0.01}
}

// Post is the scoring view of a post
type Post struct {
	PostID          string
	UserID          string
	Username        string
	IsCloseFriend   bool
	IsVerified      bool
	Caption         string
	EngagementCount int
	FollowerCount   int
	CreatedAt       time.Time

	// Filled from the caption by ScorePost when a caption is present
	HasEventIndicators bool
	EventKeywords      []string
}

// ComponentScores holds the five factor scores, each in [0,1]
type ComponentScores struct {
	UserSignal       float64 `json:"user_signal"`
	ContentSignal    float64 `json:"content_signal"`
	KeywordRelevance float64 `json:"keyword_relevance"`
	EngagementRatio  float64 `json:"engagement_ratio"`
	Recency          float64 `json:"recency"`
}

// Map returns the scores keyed by component name
func (c ComponentScores) Map() map[string]float64 {
	return map[string]float64{
		"user_signal":       c.UserSignal,
		"content_signal":    c.ContentSignal,
		"keyword_relevance": c.KeywordRelevance,
		"engagement_ratio":  c.EngagementRatio,
		"recency":           c.Recency,
	}
}

// ScoredPost is a post with its component and final scores
type ScoredPost struct {
	Post            Post            `json:"-"`
	ComponentScores ComponentScores `json:"component_scores"`
	FinalScore      float64         `json:"final_score"`
}

var eventPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:AM|PM)?\b`),
	regexp.MustCompile(`(?i)\b\d{1,3}\s+[A-Za-z\s,]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd)\b`),
	regexp.MustCompile(`(?i)\b(?:RSVP|register|sign up|tickets|event|meeting|conference|workshop)\b`),
}

// DetectEventIndicators looks for dates, times, street addresses and event
// keywords in text. It returns whether anything matched and the matched
// substrings in pattern order.
func DetectEventIndicators(text string) (bool, []string) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	var found []string
	for _, re := range eventPatterns {
		found = append(found, re.FindAllString(text, -1)...)
	}
	return len(found) > 0, found
}

// Scorer computes relevance scores. It has no mutable state and is safe for
// concurrent use.
type Scorer struct {
	Weights    Weights
	Thresholds Thresholds
	Now        func() time.Time
}

// NewScorer returns a scorer with the default weights
func NewScorer() *Scorer {
	return NewScorerWithWeights(DefaultWeights())
}

// NewScorerWithWeights returns a scorer using w
func NewScorerWithWeights(w Weights) *Scorer {
	return &Scorer{Weights: w, Thresholds: DefaultThresholds(), Now: time.Now}
}

func (s *Scorer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scorer) engagementRatio(p Post) float64 {
	if p.FollowerCount <= 0 {
		return 0
	}
	return float64(p.EngagementCount) / float64(p.FollowerCount)
}

// UserSignal favors close friends, then ordinary accounts, then verified ones
func (s *Scorer) UserSignal(p Post) float64 {
	switch {
	case p.IsCloseFriend:
		return 1.0
	case p.IsVerified:
		return 0.3
	default:
		return 0.7
	}
}

// ContentSignal scores the caption; uncaptioned posts fall back to engagement
func (s *Scorer) ContentSignal(p Post) float64 {
	if p.Caption == "" {
		if s.engagementRatio(p) >= s.Thresholds.High {
			return 0.4
		}
		return 0.2
	}
	if p.HasEventIndicators {
		return 1.0
	}
	return 0.6
}

// KeywordRelevance scores event indicators and keywords
func (s *Scorer) KeywordRelevance(p Post) float64 {
	switch {
	case p.HasEventIndicators:
		return 1.0
	case len(p.EventKeywords) > 0:
		return 0.8
	default:
		return 0.2
	}
}

// EngagementRatio buckets likes plus comments relative to followers
func (s *Scorer) EngagementRatio(p Post) float64 {
	ratio := s.engagementRatio(p)
	switch {
	case ratio >= s.Thresholds.High:
		return 0.8
	case ratio >= s.Thresholds.Medium:
		return 0.5
	default:
		return 0.2
	}
}

// Recency scores by whole days since the post was created. Posts dated in
// the future count as same-day.
func (s *Scorer) Recency(p Post) float64 {
	days := int(s.now().Sub(p.CreatedAt).Hours() / 24)
	switch {
	case days <= 0:
		return 1.0
	case days <= 7:
		return 0.8
	case days <= 30:
		return 0.5
	default:
		return 0.2
	}
}

func (s *Scorer) components(p Post) ComponentScores {
	return ComponentScores{
		UserSignal:       s.UserSignal(p),
		ContentSignal:    s.ContentSignal(p),
		KeywordRelevance: s.KeywordRelevance(p),
		EngagementRatio:  s.EngagementRatio(p),
		Recency:          s.Recency(p),
	}
}

func (s *Scorer) weighted(c ComponentScores) float64 {
	w := s.Weights
	sum := c.UserSignal*w.User +
		c.ContentSignal*w.Content +
		c.KeywordRelevance*w.Keyword +
		c.EngagementRatio*w.Engagement +
		c.Recency*w.Recency
	return round3(sum)
}

// FinalScore returns the weighted sum for p as given, without running
// event detection on the caption.
func (s *Scorer) FinalScore(p Post) float64 {
	return s.weighted(s.components(p))
}

// ScorePost detects event indicators in the caption, then computes every
// component and the final score. The input is not modified.
func (s *Scorer) ScorePost(p Post) ScoredPost {
	if p.Caption != "" {
		p.HasEventIndicators, p.EventKeywords = DetectEventIndicators(p.Caption)
	}
	c := s.components(p)
	return ScoredPost{Post: p, ComponentScores: c, FinalScore: s.weighted(c)}
}

// Rank scores every post and orders them by final score, highest first.
// Ties keep their input order.
func (s *Scorer) Rank(posts []Post) []ScoredPost {
	scored := make([]ScoredPost, len(posts))
	for i, p := range posts {
		scored[i] = s.ScorePost(p)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	return scored
}

// Filter keeps the posts scoring at least min
func Filter(scored []ScoredPost, min float64) []ScoredPost {
	var out []ScoredPost
	for _, sp := range scored {
		if sp.FinalScore >= min {
			out = append(out, sp)
		}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Context carries what the post record itself does not know: who the
// viewer's close friends are and how many followers each author has.
type Context struct {
	// CloseFriends holds usernames or user ids
	CloseFriends map[string]bool
	// FollowerCounts is keyed by username
	FollowerCounts map[string]int
}

func normalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// NewContext builds a Context from a list of close friends and known
// follower counts. Handles are matched case-insensitively.
func NewContext(closeFriends []string, followerCounts map[string]int) Context {
	ctx := Context{
		CloseFriends:   make(map[string]bool, len(closeFriends)),
		FollowerCounts: make(map[string]int, len(followerCounts)),
	}
	for _, f := range closeFriends {
		if f = normalizeHandle(f); f != "" {
			ctx.CloseFriends[f] = true
		}
	}
	for name, n := range followerCounts {
		if name = normalizeHandle(name); name != "" && n > 0 {
			ctx.FollowerCounts[name] = n
		}
	}
	return ctx
}

// FromNormalized maps a collected post onto the scoring view
func FromNormalized(p models.NormalizedPost, ctx Context) Post {
	username := normalizeHandle(p.Author.Username)
	followers := p.Author.FollowerCount
	if followers <= 0 {
		followers = ctx.FollowerCounts[username]
	}
	return Post{
		PostID:          p.PostID,
		UserID:          p.Author.ID,
		Username:        p.Author.Username,
		IsCloseFriend:   ctx.CloseFriends[username] || (p.Author.ID != "" && ctx.CloseFriends[p.Author.ID]),
		IsVerified:      p.Author.IsVerified,
		Caption:         p.Caption,
		EngagementCount: p.Engagement(),
		FollowerCount:   followers,
		CreatedAt:       p.TakenAt,
	}
}
