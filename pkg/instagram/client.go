package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"igpulse/pkg/config"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/normalize"
	"igpulse/pkg/ratelimit"
	"igpulse/pkg/retry"
	"igpulse/pkg/session"
)

const maxBodyPreview = 200

// Client talks to the private mobile API on behalf of a logged-in session
type Client struct {
	httpClient *http.Client
	baseURL    string
	webBaseURL string
	appID      string
	userAgent  string
	limiter    *ratelimit.TokenBucket
	retryCfg   *retry.Config
	logger     logger.Logger

	mu      sync.RWMutex
	session *session.Session
}

// Option customizes a Client
type Option func(*Client)

// WithTransport replaces the HTTP transport, for example to bind outbound
// connections to a specific address or to stub the network in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// WithBaseURL points the client at another API root
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithWebBaseURL points web page lookups at another host
func WithWebBaseURL(base string) Option {
	return func(c *Client) { c.webBaseURL = strings.TrimRight(base, "/") }
}

// WithLimiter sets the request rate limiter
func WithLimiter(l *ratelimit.TokenBucket) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetryConfig sets how single-post lookups are retried
func WithRetryConfig(cfg *retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for sess using the Instagram settings in cfg
func NewClient(cfg config.InstagramConfig, sess *session.Session, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = BaseURL
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(base, "/"),
		webBaseURL: WebBaseURL,
		appID:      cfg.AppID,
		userAgent:  cfg.UserAgent,
		limiter:    ratelimit.NewUnlimited(),
		session:    sess,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrDefault(c.logger).WithField("component", "instagram_client")
	if c.retryCfg == nil {
		c.retryCfg = &retry.Config{
			MaxAttempts: 3,
			Backoff:     retry.Doubling(2 * time.Second),
		}
	}
	if c.retryCfg.Logger == nil {
		c.retryCfg.Logger = c.logger
	}
	return c
}

// NewClientFromConfig wires the rate limit and retry settings of cfg
func NewClientFromConfig(cfg *config.Config, sess *session.Session, opts ...Option) *Client {
	base := []Option{
		WithLimiter(ratelimit.NewPerMinute(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)),
		WithRetryConfig(&retry.Config{
			MaxAttempts: cfg.RateLimit.MaxRetries,
			Backoff:     retry.Doubling(cfg.RateLimit.RetryDelay),
		}),
	}
	return NewClient(cfg.Instagram, sess, append(base, opts...)...)
}

// Session returns the session the client authenticates with
func (c *Client) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession swaps the session, e.g. after a refresh
func (c *Client) SetSession(sess *session.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

func (c *Client) setHeaders(req *http.Request) {
	sess := c.Session()

	ua := c.userAgent
	if sess != nil && sess.UserAgent != "" {
		ua = sess.UserAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US")
	if c.appID != "" {
		req.Header.Set("X-IG-App-ID", c.appID)
	}

	if sess == nil {
		return
	}
	if sess.UUID != "" {
		req.Header.Set("X-IG-Device-ID", sess.UUID)
	}
	if sess.DeviceID != "" {
		req.Header.Set("X-IG-Android-ID", sess.DeviceID)
	}
	if token := sess.CSRFToken(); token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	if len(sess.Cookies) > 0 {
		names := make([]string, 0, len(sess.Cookies))
		for name := range sess.Cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+sess.Cookies[name])
		}
		req.Header.Set("Cookie", strings.Join(parts, "; "))
	}
}

// do sends a request and returns the body of a successful response. Every
// failure is an *errors.Error classified for the crawler.
func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeClient, "failed to create request")
	}
	c.setHeaders(req)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WithError(err).ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      rawURL,
			"duration": time.Since(start),
		})
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeNetwork, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	logger.LogRequest(c.logger, method, rawURL, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &igerrors.Error{
			Type:    igerrors.ErrorTypeNetwork,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if apiErr := classify(resp.StatusCode, data); apiErr != nil {
		if apiErr.Type == igerrors.ErrorTypeRateLimit {
			c.limiter.Throttle()
		}
		return nil, apiErr
	}
	return data, nil
}

// classify maps a response onto the error taxonomy. Instagram sometimes
// reports failures with a 200 status and "status": "fail".
func classify(status int, body []byte) *igerrors.Error {
	var env apiStatus
	_ = json.Unmarshal(body, &env)
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	newErr := func(t igerrors.ErrorType) *igerrors.Error {
		return &igerrors.Error{Type: t, Message: msg, Code: status}
	}

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(env.Message, "Please wait a few minutes"):
		return newErr(igerrors.ErrorTypeRateLimit)
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		env.Message == "login_required", env.Message == "checkpoint_required",
		strings.HasPrefix(env.ErrorType, "checkpoint"):
		return newErr(igerrors.ErrorTypeAuth)
	case status == http.StatusNotFound:
		return newErr(igerrors.ErrorTypeNotFound)
	case status >= 500:
		return newErr(igerrors.ErrorTypeServerError)
	case status >= 400:
		return newErr(igerrors.ErrorTypeClient)
	case env.Status == "fail":
		return newErr(igerrors.ErrorTypeClient)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	data, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return c.decode(rawURL, data, target)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, form url.Values, target interface{}) error {
	data, err := c.do(ctx, http.MethodPost, rawURL, form)
	if err != nil {
		return err
	}
	return c.decode(rawURL, data, target)
}

func (c *Client) decode(rawURL string, data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		preview := string(data)
		if len(preview) > maxBodyPreview {
			preview = preview[:maxBodyPreview] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          rawURL,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return igerrors.Wrap(err, igerrors.ErrorTypeParsing, "failed to parse JSON")
	}
	return nil
}

func (c *Client) apiURL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Timeline fetches one page of the home feed. An empty maxID requests the
// first page the way the app does on startup.
func (c *Client) Timeline(ctx context.Context, maxID string) (*FeedResponse, error) {
	sess := c.Session()
	form := url.Values{}
	form.Set("is_pull_to_refresh", "0")
	form.Set("max_id", maxID)
	form.Set("feed_view_info", "")
	form.Set("seen_posts", "")
	if maxID == "" {
		form.Set("is_from_startup", "1")
		form.Set("reason", "cold_start_fetch")
	} else {
		form.Set("is_from_startup", "0")
		form.Set("reason", "pagination")
	}
	if sess != nil {
		form.Set("phone_id", sess.PhoneID)
		form.Set("device_id", sess.UUID)
		form.Set("_uuid", sess.UUID)
	}

	var resp FeedResponse
	if err := c.postJSON(ctx, c.apiURL(TimelineEndpoint, nil), form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserFeed fetches one page of a user's posts
func (c *Client) UserFeed(ctx context.Context, userID, maxID string) (*FeedResponse, error) {
	query := url.Values{}
	if maxID != "" {
		query.Set("max_id", maxID)
	}

	var resp FeedResponse
	if err := c.getJSON(ctx, c.apiURL(UserFeedEndpoint(userID), query), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentUser returns the account the session belongs to. It doubles as a
// cheap check that the session is still accepted.
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	query := url.Values{}
	query.Set("edit", "true")

	var resp UserResponse
	if err := c.getJSON(ctx, c.apiURL(CurrentUserEndpoint, query), &resp); err != nil {
		return nil, err
	}
	if resp.User.ID() == "" {
		return nil, igerrors.New(igerrors.ErrorTypeAuth, "current user not returned")
	}
	return &resp.User, nil
}

// UserByUsername resolves a username to its account
func (c *Client) UserByUsername(ctx context.Context, username string) (*UserInfo, error) {
	username = SanitizeUsername(username)
	if !IsValidUsername(username) {
		return nil, igerrors.Newf(igerrors.ErrorTypeClient, "invalid username %q", username)
	}

	var resp UserResponse
	if err := c.getJSON(ctx, c.apiURL(UsernameInfoEndpoint(username), nil), &resp); err != nil {
		return nil, err
	}
	if resp.User.ID() == "" {
		return nil, igerrors.Newf(igerrors.ErrorTypeNotFound, "user %s not found", username)
	}
	return &resp.User, nil
}

// MediaInfo fetches a single media item from the mobile API
func (c *Client) MediaInfo(ctx context.Context, mediaID string) (models.RawPost, error) {
	var resp MediaInfoResponse
	if err := c.getJSON(ctx, c.apiURL(MediaInfoEndpoint(mediaID), nil), &resp); err != nil {
		return models.RawPost{}, err
	}
	if len(resp.Items) == 0 {
		return models.RawPost{}, igerrors.Newf(igerrors.ErrorTypeNotFound, "media %s not found", mediaID)
	}
	return models.RawPost{Format: models.FormatMobile, Payload: resp.Items[0]}, nil
}

// WebPost fetches a post through the web JSON endpoint
func (c *Client) WebPost(ctx context.Context, shortcode string) (models.RawPost, error) {
	data, err := c.do(ctx, http.MethodGet, GetWebPostJSONURL(c.webBaseURL, shortcode), nil)
	if err != nil {
		return models.RawPost{}, err
	}

	var probe struct {
		Graphql *struct {
			ShortcodeMedia json.RawMessage `json:"shortcode_media"`
		} `json:"graphql"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Graphql == nil || len(probe.Graphql.ShortcodeMedia) == 0 {
		return models.RawPost{}, igerrors.Newf(igerrors.ErrorTypeParsing, "no graphql media for %s", shortcode)
	}
	return models.RawPost{Format: models.FormatWeb, Payload: bytes.TrimSpace(data)}, nil
}

// FetchPost looks a post up by numeric id or shortcode. The mobile API is
// tried first with retries; for shortcodes the web endpoint is the
// fallback, and as a last resort a legacy record carrying only the
// shortcode is returned so the post id can still be derived.
func (c *Client) FetchPost(ctx context.Context, idOrShortcode string) (models.RawPost, error) {
	idOrShortcode = strings.TrimSpace(idOrShortcode)
	mediaID, shortcode := idOrShortcode, ""
	if !isNumericID(idOrShortcode) {
		shortcode = idOrShortcode
		id, err := normalize.ShortcodeToID(shortcode)
		if err != nil {
			return models.RawPost{}, igerrors.Wrap(err, igerrors.ErrorTypeClient, "invalid shortcode")
		}
		mediaID = id
	}

	raw, err := retry.DoWithResult(ctx, func(ctx context.Context) (models.RawPost, error) {
		return c.MediaInfo(ctx, mediaID)
	}, c.retryCfg)
	if err == nil {
		return raw, nil
	}
	if shortcode == "" || fatal(err) {
		return models.RawPost{}, err
	}

	c.logger.WithError(err).WarnWithFields("Mobile lookup failed, trying web", map[string]interface{}{
		"shortcode": shortcode,
	})
	raw, webErr := c.WebPost(ctx, shortcode)
	if webErr == nil {
		return raw, nil
	}
	if fatal(webErr) {
		return models.RawPost{}, webErr
	}

	c.logger.WithError(webErr).WarnWithFields("Web lookup failed, using shortcode only", map[string]interface{}{
		"shortcode": shortcode,
	})
	payload, _ := json.Marshal(map[string]string{"shortcode": shortcode})
	return models.RawPost{Format: models.FormatLegacy, Payload: payload}, nil
}

// fatal errors stop fallbacks: the session is gone, the server is pushing
// back, or the caller gave up.
func fatal(err error) bool {
	return igerrors.IsType(err, igerrors.ErrorTypeAuth) ||
		igerrors.IsType(err, igerrors.ErrorTypeRateLimit) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) String() string {
	sess := c.Session()
	user := ""
	if sess != nil {
		user = sess.Username
	}
	return fmt.Sprintf("instagram.Client{base=%s user=%s}", c.baseURL, user)
}
