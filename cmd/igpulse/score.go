package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"igpulse/pkg/digest"
	"igpulse/pkg/scoring"
	"igpulse/pkg/ui"
)

const defaultTop = 10

var (
	scoreAccount  string
	scoreTop      int
	scoreMin      float64
	scoreJSON     bool
	scoreNotify   bool
	scoreCaptions string
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Rank collected posts by relevance",
	Long: `Rank every post collected for an account. Each post is scored on five
factors: who posted it, what it says, whether it mentions an event, how
much engagement it drew and how recent it is.

With --notify, the top posts not yet delivered are sent as a digest.`,
	Example: `  igpulse score --account myaccount --top 5
  igpulse score --json | jq '.[0]'
  igpulse score --notify`,
	Args: cobra.NoArgs,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVarP(&scoreAccount, "account", "a", "", "account whose posts to rank")
	scoreCmd.Flags().IntVarP(&scoreTop, "top", "n", defaultTop, "number of posts to show (0 for all)")
	scoreCmd.Flags().Float64Var(&scoreMin, "min-score", 0, "hide posts scoring below this")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print scores as JSON")
	scoreCmd.Flags().BoolVar(&scoreNotify, "notify", false, "deliver a digest of new top posts")
	scoreCmd.Flags().StringVar(&scoreCaptions, "captions", "", "caption length: short, medium or long (default from config)")
}

type scoredJSON struct {
	Rank       int                     `json:"rank"`
	PostID     string                  `json:"post_id"`
	Username   string                  `json:"username"`
	Caption    string                  `json:"caption,omitempty"`
	Score      float64                 `json:"final_score"`
	Components scoring.ComponentScores `json:"component_scores"`
	Events     []string                `json:"event_keywords,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, scoreNotify, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	account := scoreAccount
	if account == "" {
		account = a.cfg.Instagram.Username
	}

	posts, err := a.collector.StoredPosts(account)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		ui.PrintInfo("No posts collected", "run 'igpulse crawl timeline' first")
		return nil
	}

	ranked := scoring.Filter(a.collector.Score(posts), scoreMin)
	if scoreCaptions != "" {
		a.cfg.Digest.SummaryLength = scoreCaptions
	}

	if scoreJSON {
		if err := printRankedJSON(ranked, scoreTop); err != nil {
			return err
		}
	} else {
		ui.PrintHighlight(fmt.Sprintf("Top posts (%d scored)", len(ranked)))
		printRankedWithLength(ranked, scoreTop, digest.ParseSummaryLength(a.cfg.Digest.SummaryLength))
	}

	if !scoreNotify {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	d, err := a.collector.Deliver(ctx, account, posts, ranked)
	if err != nil {
		return err
	}
	if d == nil {
		ui.PrintInfo("Digest", "nothing new to deliver")
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("Delivered %d posts", len(d.Posts)))
	return nil
}

func limitTop(ranked []scoring.ScoredPost, top int) []scoring.ScoredPost {
	if top > 0 && len(ranked) > top {
		return ranked[:top]
	}
	return ranked
}

func printRanked(ranked []scoring.ScoredPost, top int) {
	printRankedWithLength(ranked, top, digest.Short)
}

func printRankedWithLength(ranked []scoring.ScoredPost, top int, length digest.SummaryLength) {
	for i, sp := range limitTop(ranked, top) {
		p := sp.Post
		name := "@" + p.Username
		if p.IsCloseFriend {
			name += " " + ui.Magenta("★")
		}
		ui.Printf("\n%2d. %s %s\n", i+1, ui.ScoreBar(sp.FinalScore), name)

		if caption := strings.Join(strings.Fields(p.Caption), " "); caption != "" {
			ui.Printf("    %s\n", digest.Truncate(caption, length))
		}
		if p.HasEventIndicators {
			ui.Printf("    %s %s\n", ui.Yellow("event:"), strings.Join(p.EventKeywords, ", "))
		}
		c := sp.ComponentScores
		ui.Printf("    %s\n", ui.Dim(fmt.Sprintf("user %.2f  content %.2f  keyword %.2f  engagement %.2f  recency %.2f",
			c.UserSignal, c.ContentSignal, c.KeywordRelevance, c.EngagementRatio, c.Recency)))
	}
}

func printRankedJSON(ranked []scoring.ScoredPost, top int) error {
	out := make([]scoredJSON, 0, len(ranked))
	for i, sp := range limitTop(ranked, top) {
		out = append(out, scoredJSON{
			Rank:       i + 1,
			PostID:     sp.Post.PostID,
			Username:   sp.Post.Username,
			Caption:    sp.Post.Caption,
			Score:      sp.FinalScore,
			Components: sp.ComponentScores,
			Events:     sp.Post.EventKeywords,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
