package main

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"igpulse/pkg/monitor"
	"igpulse/pkg/ui"
)

var (
	monitorSchedule string
	monitorOnce     bool
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [accounts...]",
	Short: "Crawl accounts on a schedule and deliver digests",
	Long: `Crawl the home feed of each account on a cron schedule, score the new
posts and deliver a digest of the best ones.

Accounts come from the arguments and from monitor.accounts in the config.
Different accounts may crawl in parallel; one account never has two
crawls running at once.`,
	Example: `  # Every 30 minutes for two accounts
  igpulse monitor alice bob --schedule "*/30 * * * *"

  # One pass for the configured accounts, then exit
  igpulse monitor --once`,
	RunE: runMonitor,
}

var monitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show scheduled accounts and their next run",
	Args:  cobra.NoArgs,
	RunE:  runMonitorList,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorListCmd)

	monitorCmd.Flags().StringVarP(&monitorSchedule, "schedule", "s", "", "cron schedule for the named accounts (default from config)")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run every account once and exit")
}

func newMonitor(a *app, accounts []string) (*monitor.Monitor, error) {
	m, err := monitor.New(a.cfg.Monitor, a.collector.Run, a.log)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		if err := m.AddAccount(account, monitorSchedule); err != nil {
			return nil, err
		}
	}
	if len(m.Accounts()) == 0 {
		return nil, fmt.Errorf("no accounts to monitor: name them as arguments or set monitor.accounts")
	}
	return m, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, true, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := newMonitor(a, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if monitorOnce {
		ui.PrintHighlight(fmt.Sprintf("Crawling %d accounts", len(m.Accounts())))
		if err := m.RunNow(ctx); err != nil {
			return err
		}
		ui.PrintSuccess("All accounts crawled")
		return nil
	}

	m.Start()
	printJobs(m)
	ui.PrintInfo("Monitoring", "press Ctrl+C to stop")

	<-ctx.Done()
	ui.PrintWarning("Stopping, waiting for running crawls to finish")
	<-m.Stop().Done()
	ui.PrintSuccess("Monitor stopped")
	return nil
}

func runMonitorList(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(nil)
	if err != nil {
		return err
	}
	m, err := monitor.New(cfg.Monitor, nil, log)
	if err != nil {
		return err
	}
	if len(m.Accounts()) == 0 {
		ui.PrintInfo("No scheduled accounts", "set monitor.accounts in the config")
		return nil
	}
	printJobs(m)
	return nil
}

func printJobs(m *monitor.Monitor) {
	now := time.Now().In(m.Location())
	for _, job := range m.ListJobs() {
		next := job.NextRun
		if next.IsZero() {
			if sched, err := cron.ParseStandard(job.Schedule); err == nil {
				next = sched.Next(now)
			}
		}
		line := fmt.Sprintf("  %-20s %-16s", job.Account, job.Schedule)
		if !next.IsZero() {
			line += " next " + next.Format("2006-01-02 15:04")
		}
		if !job.LastRun.IsZero() {
			line += ui.Dim(" last " + job.LastRun.Format("2006-01-02 15:04"))
		}
		ui.Printf("%s\n", line)
	}
}
