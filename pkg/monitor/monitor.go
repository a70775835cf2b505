package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"igpulse/pkg/config"
	"igpulse/pkg/logger"
)

// ErrAlreadyRunning is returned when an account's previous crawl has not
// finished yet
var ErrAlreadyRunning = errors.New("crawl already running for account")

// Job crawls one account
type Job func(ctx context.Context, account string) error

// JobInfo describes a scheduled account
type JobInfo struct {
	Account  string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// Monitor runs a Job per account on a cron schedule. Different accounts
// may crawl in parallel, one account never has two crawls at once.
type Monitor struct {
	cron        *cron.Cron
	loc         *time.Location
	schedule    string
	timeout     time.Duration
	parallelism int
	run         Job
	logger      logger.Logger

	mu        sync.Mutex
	entries   map[string]cron.EntryID
	schedules map[string]string
	running   map[string]bool
}

// New creates a monitor from configuration. Accounts listed in cfg are
// scheduled immediately; Start begins firing them.
func New(cfg config.MonitorConfig, run Job, log logger.Logger) (*Monitor, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", tz, err)
	}

	log = logger.OrDefault(log).WithField("component", "monitor")

	m := &Monitor{
		cron:        cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log})),
		loc:         loc,
		schedule:    cfg.Schedule,
		timeout:     cfg.JobTimeout,
		parallelism: cfg.Parallelism,
		run:         run,
		logger:      log,
		entries:     make(map[string]cron.EntryID),
		schedules:   make(map[string]string),
		running:     make(map[string]bool),
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Minute
	}
	if m.parallelism <= 0 {
		m.parallelism = 1
	}

	for _, account := range cfg.Accounts {
		if err := m.AddAccount(account, ""); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Location returns the timezone schedules are evaluated in
func (m *Monitor) Location() *time.Location {
	return m.loc
}

// AddAccount schedules account. An empty schedule uses the configured
// default. Re-adding an account replaces its schedule.
func (m *Monitor) AddAccount(account, schedule string) error {
	account = normalizeAccount(account)
	if account == "" {
		return errors.New("account name is required")
	}
	if schedule == "" {
		schedule = m.schedule
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.cron.AddFunc(schedule, func() {
		if err := m.RunAccount(context.Background(), account); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			m.logger.WithError(err).ErrorWithFields("Scheduled crawl failed", map[string]interface{}{
				"account": account,
			})
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", account, err)
	}

	if old, ok := m.entries[account]; ok {
		m.cron.Remove(old)
	}
	m.entries[account] = id
	m.schedules[account] = schedule

	m.logger.InfoWithFields("Account scheduled", map[string]interface{}{
		"account":  account,
		"schedule": schedule,
	})
	return nil
}

// RemoveAccount stops scheduling account
func (m *Monitor) RemoveAccount(account string) {
	account = normalizeAccount(account)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.entries[account]; ok {
		m.cron.Remove(id)
		delete(m.entries, account)
		delete(m.schedules, account)
		m.logger.InfoWithFields("Account unscheduled", map[string]interface{}{"account": account})
	}
}

// Accounts returns the scheduled accounts sorted by name
func (m *Monitor) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]string, 0, len(m.entries))
	for account := range m.entries {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// RunAccount crawls account now with the job timeout applied. It returns
// ErrAlreadyRunning instead of waiting when the account is busy.
func (m *Monitor) RunAccount(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	if !m.acquire(account) {
		m.logger.WarnWithFields("Crawl already running for account, skipping", map[string]interface{}{
			"account": account,
		})
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, account)
	}
	defer m.release(account)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	logger.LogComponentStart(m.logger, "crawl", map[string]interface{}{"account": account})

	if err := m.run(ctx, account); err != nil {
		m.logger.WithError(err).WarnWithFields("Crawl finished with error", map[string]interface{}{
			"account":  account,
			"duration": time.Since(start),
		})
		return err
	}

	m.logger.InfoWithFields("Crawl completed", map[string]interface{}{
		"account":  account,
		"duration": time.Since(start),
	})
	return nil
}

// RunNow crawls the given accounts, or every scheduled account when none
// are named, at most Parallelism at a time. Every account runs even when
// others fail; the failures are joined.
func (m *Monitor) RunNow(ctx context.Context, accounts ...string) error {
	if len(accounts) == 0 {
		accounts = m.Accounts()
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(m.parallelism)

	for _, account := range accounts {
		account := account
		g.Go(func() error {
			if err := m.RunAccount(ctx, account); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// ListJobs returns the scheduled accounts with their next and previous
// runs, sorted by account
func (m *Monitor) ListJobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]JobInfo, 0, len(m.entries))
	for account, id := range m.entries {
		entry := m.cron.Entry(id)
		infos = append(infos, JobInfo{
			Account:  account,
			Schedule: m.schedules[account],
			NextRun:  entry.Next,
			LastRun:  entry.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Account < infos[j].Account })
	return infos
}

// Start begins firing scheduled crawls in the background
func (m *Monitor) Start() {
	logger.LogComponentStart(m.logger, "monitor", map[string]interface{}{
		"accounts": len(m.Accounts()),
		"timezone": m.loc.String(),
	})
	m.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running
// crawls have finished.
func (m *Monitor) Stop() context.Context {
	logger.LogComponentStop(m.logger, "monitor", "stopped")
	return m.cron.Stop()
}

func (m *Monitor) acquire(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[account] {
		return false
	}
	m.running[account] = true
	return true
}

func (m *Monitor) release(account string) {
	m.mu.Lock()
	delete(m.running, account)
	m.mu.Unlock()
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(account), "@"))
}

// cronLogger routes cron's own messages through the structured logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.DebugWithFields("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).ErrorWithFields("cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
