package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"igpulse/pkg/collector"
	"igpulse/pkg/ui"
)

var (
	crawlAccount   string
	crawlMaxPosts  int
	crawlBatchSize int
	crawlMinDelay  time.Duration
	crawlMaxDelay  time.Duration
	crawlBrowse    bool
	crawlSafeMode  bool
	crawlOutput    string
	crawlWorkers   int
	crawlScore     bool
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Collect posts from Instagram",
	Long: `Collect posts with the saved session of an account. Posts are written
as JSON files to the output directory, one subdirectory per account.

Requests are paced like a person scrolling: randomized delays between
pages, longer breaks between batches and, with --browse, occasional
reading and distraction pauses.`,
}

var crawlTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Collect the home feed",
	Example: `  igpulse crawl timeline --account myaccount --max-posts 200
  igpulse crawl timeline --safe-mode --browse`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(collector.Timeline())
	},
}

var crawlUserCmd = &cobra.Command{
	Use:     "user <username>",
	Short:   "Collect the posts of one profile",
	Example: `  igpulse crawl user natgeo --max-posts 50`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(collector.User(collector.NormalizeAccount(args[0])))
	},
}

var crawlPostCmd = &cobra.Command{
	Use:     "post <id|shortcode>...",
	Short:   "Fetch individual posts",
	Long:    `Fetch individual posts by media id or shortcode. Posts already collected for the account are skipped.`,
	Example: `  igpulse crawl post CxYz123AbC 3141592653589793238 --workers 2`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runCrawlPosts,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.AddCommand(crawlTimelineCmd, crawlUserCmd, crawlPostCmd)

	flags := crawlCmd.PersistentFlags()
	flags.StringVarP(&crawlAccount, "account", "a", "", "account whose session to use (default: stored default)")
	flags.StringVarP(&crawlOutput, "output", "o", "", "output directory (overrides config)")
	flags.BoolVar(&crawlScore, "score", false, "print the top posts once the crawl finishes")

	for _, c := range []*cobra.Command{crawlTimelineCmd, crawlUserCmd} {
		c.Flags().IntVarP(&crawlMaxPosts, "max-posts", "n", 0, "stop after this many posts (default from config)")
		c.Flags().IntVar(&crawlBatchSize, "batch-size", 0, "posts per batch before a longer break")
		c.Flags().DurationVar(&crawlMinDelay, "min-delay", 0, "minimum delay between pages")
		c.Flags().DurationVar(&crawlMaxDelay, "max-delay", 0, "maximum delay between pages")
		c.Flags().BoolVar(&crawlBrowse, "browse", false, "simulate browsing pauses")
		c.Flags().BoolVar(&crawlSafeMode, "safe-mode", false, "use slower, more conservative pacing")
	}
	crawlPostCmd.Flags().IntVarP(&crawlWorkers, "workers", "w", 3, "number of concurrent fetches")
}

func crawlFlags() map[string]interface{} {
	return map[string]interface{}{
		"output":     crawlOutput,
		"max-posts":  crawlMaxPosts,
		"batch-size": crawlBatchSize,
		"min-delay":  crawlMinDelay,
		"max-delay":  crawlMaxDelay,
		"browse":     crawlBrowse,
		"safe-mode":  crawlSafeMode,
	}
}

func runCrawl(target collector.Target) error {
	a, err := newApp(crawlFlags(), false, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	what := "home feed"
	if target.Kind == collector.TargetUser {
		what = "@" + target.Username
	}
	goal := a.cfg.Crawl.MaxPosts
	ui.PrintHighlight("Collecting " + what)
	ui.PrintInfo("Target", fmt.Sprintf("%d posts", goal))
	if a.cfg.Crawl.SafeMode {
		ui.PrintWarning("Safe mode: slower pacing")
	}

	result, crawlErr := a.collector.Collect(ctx, crawlAccount, target, 0)
	if result == nil {
		return crawlErr
	}

	ui.Printf("\n%s %s\n", ui.CrawlProgress(len(result.Posts), goal), ui.Dim(result.OutputDir))
	ui.PrintCrawlStats(result.Stats, goal)

	if crawlErr != nil {
		if len(result.Posts) > 0 {
			ui.PrintWarning(fmt.Sprintf("Crawl stopped early, %d posts were saved", len(result.Posts)))
		}
		return crawlErr
	}
	ui.PrintSuccess(fmt.Sprintf("Collected %d posts for %s", len(result.Posts), result.Account))

	if crawlScore {
		printRanked(a.collector.Score(result.Posts), defaultTop)
	}
	return nil
}

func runCrawlPosts(cmd *cobra.Command, args []string) error {
	a, err := newApp(crawlFlags(), false, crawlWorkers)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ui.PrintInfo("Fetching", fmt.Sprintf("%d posts with %d workers", len(args), crawlWorkers))
	result, fetchErr := a.collector.FetchPosts(ctx, crawlAccount, args)
	if result == nil {
		return fetchErr
	}

	for _, p := range result.Posts {
		ui.Printf("  %s @%s %s\n", ui.Green("✓"), p.Author.Username, ui.Dim(p.Shortcode))
	}
	if len(result.Files) > 0 {
		ui.PrintSuccess(fmt.Sprintf("Saved %d posts to %s", len(result.Posts), result.Files[0]))
	} else if fetchErr == nil {
		ui.PrintInfo("Nothing new", "all posts were already collected")
	}

	if crawlScore && len(result.Posts) > 0 {
		printRanked(a.collector.Score(result.Posts), defaultTop)
	}
	return fetchErr
}
