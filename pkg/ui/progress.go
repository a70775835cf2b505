package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"igpulse/pkg/crawler"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Bar renders a fill ratio in [0,1] as a fixed-width bar
func Bar(ratio float64) string {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * barWidth))
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
}

// ScoreBar renders a relevance score with its numeric value
func ScoreBar(score float64) string {
	return fmt.Sprintf("[%s] %.3f", Bar(score), score)
}

// CrawlProgress renders collected/target as a bar
func CrawlProgress(collected, target int) string {
	if target <= 0 {
		return fmt.Sprintf("[%s] %d", Bar(0), collected)
	}
	return fmt.Sprintf("[%s] %d/%d", Bar(float64(collected)/float64(target)), collected, target)
}

// PrintCrawlStats prints the counters of a finished crawl
func PrintCrawlStats(stats crawler.Stats, target int) {
	Printf("\n%s %s\n", Magenta("[COLLECTED]"), Yellow(CrawlProgress(stats.Collected, target)))
	Printf("  %s %d   %s %d   %s %d\n",
		Cyan("pages:"), stats.Pages,
		Cyan("duplicates:"), stats.Duplicates,
		Cyan("sponsored:"), stats.Sponsored)
	if stats.ParseErrors > 0 || stats.Throttles > 0 || stats.ErrorRetries > 0 {
		Printf("  %s %d   %s %d   %s %d\n",
			Yellow("parse errors:"), stats.ParseErrors,
			Yellow("throttles:"), stats.Throttles,
			Yellow("retries:"), stats.ErrorRetries)
	}
	Printf("  %s %s\n", Dim("elapsed:"), Dim(stats.Duration.Round(time.Second).String()))
}
