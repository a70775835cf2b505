package digest

import (
	"context"
	"time"

	"igpulse/pkg/config"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/scoring"
)

// Digest is the selection of top posts for one account
type Digest struct {
	Account      string
	Posts        []scoring.ScoredPost
	Notification *Notification
	CreatedAt    time.Time
}

// PostIDs returns the ids of the selected posts in rank order
func (d *Digest) PostIDs() []string {
	ids := make([]string, len(d.Posts))
	for i, p := range d.Posts {
		ids[i] = p.Post.PostID
	}
	return ids
}

// Builder selects undelivered top posts and renders them
type Builder struct {
	ledger        *Ledger
	topN          int
	minScore      float64
	length        SummaryLength
	includeImages bool
	logger        logger.Logger
}

// NewBuilder creates a digest builder. A nil ledger disables delivery
// tracking.
func NewBuilder(ledger *Ledger, cfg config.DigestConfig, minScore float64, log logger.Logger) *Builder {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 5
	}
	return &Builder{
		ledger:        ledger,
		topN:          topN,
		minScore:      minScore,
		length:        ParseSummaryLength(cfg.SummaryLength),
		includeImages: true,
		logger:        logger.OrDefault(log).WithField("component", "digest"),
	}
}

// Build takes posts ranked by Scorer.Rank, drops those below the minimum
// score or already delivered to account, and keeps the top N. posts
// supplies the records rendered in the notification. It returns nil when
// nothing is new.
func (b *Builder) Build(ctx context.Context, account string, scored []scoring.ScoredPost, posts map[string]models.NormalizedPost) (*Digest, error) {
	candidates := scoring.Filter(scored, b.minScore)

	if b.ledger != nil {
		var err error
		if candidates, err = b.ledger.FilterUndelivered(ctx, account, candidates); err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		b.logger.DebugWithFields("Nothing new to deliver", map[string]interface{}{
			"account": account,
			"scored":  len(scored),
		})
		return nil, nil
	}
	if len(candidates) > b.topN {
		candidates = candidates[:b.topN]
	}

	records := make([]models.NormalizedPost, 0, len(candidates))
	for _, c := range candidates {
		if p, ok := posts[c.Post.PostID]; ok {
			records = append(records, p)
		}
	}

	d := &Digest{
		Account:      account,
		Posts:        candidates,
		Notification: FormatNotification(records, account, b.length, b.includeImages),
		CreatedAt:    time.Now(),
	}

	b.logger.InfoWithFields("Digest built", map[string]interface{}{
		"account":   account,
		"posts":     len(candidates),
		"top_score": candidates[0].FinalScore,
	})
	return d, nil
}

// MarkDelivered records a digest's posts in the ledger once it was sent
func (b *Builder) MarkDelivered(ctx context.Context, d *Digest) error {
	if b.ledger == nil || d == nil {
		return nil
	}
	return b.ledger.MarkDelivered(ctx, d.Account, d.Posts)
}

// PostIndex maps normalized posts by id for Build
func PostIndex(posts []models.NormalizedPost) map[string]models.NormalizedPost {
	index := make(map[string]models.NormalizedPost, len(posts))
	for _, p := range posts {
		index[p.PostID] = p
	}
	return index
}
