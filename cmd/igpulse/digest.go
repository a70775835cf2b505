package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"igpulse/pkg/collector"
	"igpulse/pkg/ui"
)

var (
	historyAccount string
	historyLimit   int
	pruneOlderThan time.Duration
)

// digestCmd represents the digest command
var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Inspect and maintain the delivered-posts ledger",
}

var digestHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List posts already delivered to an account",
	Args:  cobra.NoArgs,
	RunE:  runDigestHistory,
}

var digestPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget old deliveries so posts can be surfaced again",
	Args:  cobra.NoArgs,
	RunE:  runDigestPrune,
}

func init() {
	rootCmd.AddCommand(digestCmd)
	digestCmd.AddCommand(digestHistoryCmd, digestPruneCmd)

	digestHistoryCmd.Flags().StringVarP(&historyAccount, "account", "a", "", "account to show (default from config)")
	digestHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of deliveries to show")

	digestPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "forget deliveries older than this")
}

func runDigestHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, true, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	account := historyAccount
	if account == "" {
		account = a.cfg.Instagram.Username
	}
	account = collector.NormalizeAccount(account)
	if account == "" {
		return fmt.Errorf("--account is required")
	}

	history, err := a.ledger.History(cmd.Context(), account, historyLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		ui.PrintInfo("No deliveries", account)
		return nil
	}

	ui.PrintHighlight(fmt.Sprintf("Delivered to %s", account))
	for _, d := range history {
		ui.Printf("  %s  %-22s %s\n", d.DeliveredAt.Local().Format("2006-01-02 15:04"), d.PostID, ui.ScoreBar(d.Score))
	}
	return nil
}

func runDigestPrune(cmd *cobra.Command, args []string) error {
	if pruneOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	a, err := newApp(nil, true, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.ledger.Prune(cmd.Context(), time.Now().Add(-pruneOlderThan))
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Removed %d deliveries older than %s", removed, pruneOlderThan))
	return nil
}
