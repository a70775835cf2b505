package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"igpulse/internal/fetcher"
	"igpulse/pkg/auth"
	"igpulse/pkg/config"
	"igpulse/pkg/crawler"
	"igpulse/pkg/digest"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/instagram"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/pacing"
	"igpulse/pkg/poststore"
	"igpulse/pkg/scoring"
	"igpulse/pkg/session"
)

// TargetKind selects which feed a crawl reads
type TargetKind string

const (
	TargetTimeline TargetKind = "timeline"
	TargetUser     TargetKind = "user"
)

// Target is the feed to crawl. Username is only used for TargetUser.
type Target struct {
	Kind     TargetKind
	Username string
}

// Timeline targets the logged-in account's home feed
func Timeline() Target {
	return Target{Kind: TargetTimeline}
}

// User targets one profile's posts
func User(username string) Target {
	return Target{Kind: TargetUser, Username: username}
}

// LoginFunc returns a usable session for account
type LoginFunc func(ctx context.Context, account string) (*session.Session, error)

// SourceFactory builds the page source for a target
type SourceFactory func(ctx context.Context, sess *session.Session, target Target) (crawler.PageSource, error)

// FetcherFactory builds a single-post fetcher
type FetcherFactory func(sess *session.Session) crawler.PostFetcher

// Notifier delivers a rendered digest
type Notifier interface {
	SendDigest(account string, note *digest.Notification) error
}

// Options configure a Collector. Only Config is required; the factories
// default to the Instagram client.
type Options struct {
	Config      *config.Config
	Credentials *auth.Manager
	Ledger      *digest.Ledger
	Notifier    Notifier
	Logger      logger.Logger

	Login    LoginFunc
	Sources  SourceFactory
	Fetchers FetcherFactory
	// Workers bounds concurrent single-post fetches
	Workers int
}

// Collector runs the collect, score and digest steps for one account at a
// time. Each account keeps its own session directory and output directory.
type Collector struct {
	cfg      *config.Config
	creds    *auth.Manager
	ledger   *digest.Ledger
	notifier Notifier
	logger   logger.Logger

	login    LoginFunc
	sources  SourceFactory
	fetchers FetcherFactory
	workers  int

	mu        sync.Mutex
	followers map[string]int
}

// Result describes one collection
type Result struct {
	Account   string
	Session   *session.Session
	Posts     []models.NormalizedPost
	Stats     crawler.Stats
	OutputDir string
	Files     []string
}

// New creates a Collector
func New(opts Options) *Collector {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	c := &Collector{
		cfg:      opts.Config,
		creds:    opts.Credentials,
		ledger:   opts.Ledger,
		notifier: opts.Notifier,
		logger:   logger.OrDefault(opts.Logger),
		login:    opts.Login,
		sources:  opts.Sources,
		fetchers: opts.Fetchers,
		workers:  opts.Workers,
	}
	if c.login == nil {
		c.login = c.defaultLogin
	}
	if c.sources == nil {
		c.sources = c.defaultSource
	}
	if c.fetchers == nil {
		c.fetchers = func(sess *session.Session) crawler.PostFetcher { return c.newClient(sess) }
	}
	return c
}

// Config returns the collector's configuration
func (c *Collector) Config() *config.Config {
	return c.cfg
}

// NormalizeAccount lowercases a handle and strips a leading @
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(account), "@"))
}

// SessionDir is where account's session lives. The empty account uses the
// configured directory itself.
func (c *Collector) SessionDir(account string) string {
	if account = NormalizeAccount(account); account == "" {
		return c.cfg.Session.Directory
	}
	return filepath.Join(c.cfg.Session.Directory, account)
}

// OutputDir is where account's post files are written
func (c *Collector) OutputDir(account string) string {
	if account = NormalizeAccount(account); account == "" {
		return c.cfg.Output.Directory
	}
	return filepath.Join(c.cfg.Output.Directory, account)
}

// SessionStore opens the session store of account
func (c *Collector) SessionStore(account string) *session.Store {
	return session.NewStore(c.SessionDir(account), session.Options{
		MaxAge:     c.cfg.Session.MaxAge,
		MaxBackups: c.cfg.Session.MaxBackups,
		Logger:     c.logger,
	})
}

// Authenticator returns the authenticator bound to account's session store
func (c *Collector) Authenticator(account string) *auth.Authenticator {
	return auth.NewAuthenticator(c.SessionStore(account), c.creds, func(sess *session.Session) auth.Verifier {
		return c.newClient(sess)
	}, c.logger)
}

func (c *Collector) newClient(sess *session.Session) *instagram.Client {
	return instagram.NewClientFromConfig(c.cfg, sess, instagram.WithLogger(c.logger))
}

// configAccount builds an account from cookies given in the configuration
func (c *Collector) configAccount(account string) *auth.Account {
	ig := c.cfg.Instagram
	if ig.SessionID == "" {
		return nil
	}
	if account == "" {
		account = ig.Username
	}
	return &auth.Account{
		Username:  account,
		SessionID: ig.SessionID,
		CSRFToken: ig.CSRFToken,
		UserAgent: ig.UserAgent,
	}
}

func (c *Collector) defaultLogin(ctx context.Context, account string) (*session.Session, error) {
	a := c.Authenticator(account)
	sess, err := a.Login(ctx, account)
	if err == nil {
		return sess, nil
	}

	// Cookies from the config file or flags are the last resort
	if fromConfig := c.configAccount(account); fromConfig != nil && fromConfig.Validate() == nil && !isCancel(err) {
		c.logger.WithError(err).Info("Logging in with cookies from configuration")
		return a.LoginWithCookies(ctx, fromConfig)
	}
	return nil, err
}

func (c *Collector) defaultSource(ctx context.Context, sess *session.Session, target Target) (crawler.PageSource, error) {
	client := c.newClient(sess)
	if target.Kind != TargetUser {
		return instagram.NewTimelineSource(client), nil
	}

	user, err := client.UserByUsername(ctx, target.Username)
	if err != nil {
		return nil, err
	}
	c.RememberFollowers(user.Username, user.FollowerCount)
	return instagram.NewUserSource(client, user.ID()), nil
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Collector) newStore(account string, sess *session.Session) *poststore.Store {
	return poststore.New(c.OutputDir(account), poststore.CollectorInfo{
		Username: sess.Username,
		UserID:   sess.UserID,
	}, c.cfg.Output.MaxPostsPerFile, c.logger)
}

// Collect logs in as account and crawls target, writing posts to the
// account's output directory. Posts gathered before a failure are
// returned with the error.
func (c *Collector) Collect(ctx context.Context, account string, target Target, maxPosts int) (*Result, error) {
	account = NormalizeAccount(account)
	log := c.logger.WithFields(map[string]interface{}{
		"account": account,
		"target":  string(target.Kind),
	})

	sess, err := c.login(ctx, account)
	if err != nil {
		return nil, err
	}
	if account == "" {
		account = NormalizeAccount(sess.Username)
	}

	source, err := c.sources(ctx, sess, target)
	if err != nil {
		return nil, err
	}

	store := c.newStore(account, sess)
	engine := crawler.New(source, crawler.Options{
		Crawl:  c.cfg.Crawl,
		Pacing: pacing.New(c.cfg.Pacing, pacing.WithLogger(log)),
		Store:  store,
		Logger: log,
	})

	posts, crawlErr := engine.Crawl(ctx, maxPosts)
	result := &Result{
		Account:   account,
		Session:   sess,
		Posts:     posts,
		Stats:     engine.Stats(),
		OutputDir: store.Dir(),
		Files:     store.Files(),
	}

	log.InfoWithFields("Collection finished", map[string]interface{}{
		"collected": len(posts),
		"files":     len(result.Files),
	})
	return result, crawlErr
}

// FetchPosts logs in as account and fetches individual posts by id or
// shortcode. Posts already in the account's output directory are skipped.
func (c *Collector) FetchPosts(ctx context.Context, account string, ids []string) (*Result, error) {
	account = NormalizeAccount(account)
	sess, err := c.login(ctx, account)
	if err != nil {
		return nil, err
	}
	if account == "" {
		account = NormalizeAccount(sess.Username)
	}

	known := make(map[string]bool)
	if stored, err := poststore.LoadPosts(c.OutputDir(account)); err == nil {
		for _, p := range stored {
			known[p.PostID] = true
			if p.Shortcode != "" {
				known[p.Shortcode] = true
			}
		}
	}

	posts, fetchErr := fetcher.FetchAll(ctx, c.fetchers(sess), ids, c.workers, func(id string) bool {
		return known[id]
	}, c.logger)

	result := &Result{Account: account, Session: sess, Posts: posts, OutputDir: c.OutputDir(account)}
	if len(posts) == 0 {
		return result, fetchErr
	}

	store := c.newStore(account, sess)
	if _, err := store.Initialize(time.Now().Format(crawler.SessionIDFormat)); err != nil {
		return result, err
	}
	if err := store.Append(posts); err != nil {
		return result, err
	}
	result.Files = store.Files()
	return result, fetchErr
}

// Scorer builds the configured scorer
func (c *Collector) Scorer() *scoring.Scorer {
	return scoring.NewScorerWithWeights(scoring.WeightsFromConfig(c.cfg.Scoring.Weights))
}

// Score ranks posts by relevance. Sponsored posts and parse-failure stubs
// are not scored.
func (c *Collector) Score(posts []models.NormalizedPost) []scoring.ScoredPost {
	sctx := scoring.NewContext(c.cfg.Scoring.CloseFriends, c.FollowerCounts())
	views := make([]scoring.Post, 0, len(posts))
	for _, p := range posts {
		if p.IsSponsored || p.IsStub() || p.PostID == "" {
			continue
		}
		views = append(views, scoring.FromNormalized(p, sctx))
	}
	return c.Scorer().Rank(views)
}

// StoredPosts loads every post collected for account
func (c *Collector) StoredPosts(account string) ([]models.NormalizedPost, error) {
	posts, err := poststore.LoadPosts(c.OutputDir(account))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return posts, err
}

// Deliver builds a digest from ranked posts, sends it and records the
// delivered posts. Posts are only marked delivered after a successful
// send. A nil digest means nothing new was found.
func (c *Collector) Deliver(ctx context.Context, account string, posts []models.NormalizedPost, ranked []scoring.ScoredPost) (*digest.Digest, error) {
	account = NormalizeAccount(account)
	builder := digest.NewBuilder(c.ledger, c.cfg.Digest, c.cfg.Scoring.MinScore, c.logger)

	d, err := builder.Build(ctx, account, ranked, digest.PostIndex(posts))
	if err != nil || d == nil {
		return nil, err
	}

	if c.notifier != nil {
		if err := c.notifier.SendDigest(account, d.Notification); err != nil {
			return d, igerrors.Wrap(err, igerrors.ErrorTypeUnknown, "failed to send digest")
		}
	}

	if err := builder.MarkDelivered(ctx, d); err != nil {
		return d, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to record delivered posts")
	}
	return d, nil
}

// Run is one scheduled pass for account: crawl the timeline, score what
// came back and deliver a digest of anything new. A crawl that fails part
// way still delivers the posts it gathered.
func (c *Collector) Run(ctx context.Context, account string) error {
	result, crawlErr := c.Collect(ctx, account, Timeline(), 0)
	if result == nil || len(result.Posts) == 0 {
		return crawlErr
	}

	ranked := c.Score(result.Posts)
	if _, err := c.Deliver(ctx, result.Account, result.Posts, ranked); err != nil {
		return errors.Join(crawlErr, err)
	}
	return crawlErr
}
