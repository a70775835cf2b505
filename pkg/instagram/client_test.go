package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igpulse/pkg/config"
	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/logger"
	"igpulse/pkg/models"
	"igpulse/pkg/normalize"
	"igpulse/pkg/ratelimit"
	"igpulse/pkg/retry"
	"igpulse/pkg/session"
)

// mockRoundTripper intercepts HTTP requests and records them
type mockRoundTripper struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	return m.handler(req)
}

func (m *mockRoundTripper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func jsonResponse(statusCode int, v interface{}) *http.Response {
	data, _ := json.Marshal(v)
	return newResponse(statusCode, string(data))
}

func testSession() *session.Session {
	return &session.Session{
		Username: "alice",
		UserID:   "42",
		Cookies: map[string]string{
			"sessionid":  "sid",
			"csrftoken":  "tok",
			"ds_user_id": "42",
		},
		UUID:     "uuid-1",
		PhoneID:  "phone-1",
		DeviceID: "android-0123456789abcdef",
	}
}

func newTestClient(t *testing.T, handler func(req *http.Request) (*http.Response, error), opts ...Option) (*Client, *mockRoundTripper) {
	t.Helper()
	rt := &mockRoundTripper{handler: handler}
	cfg := config.DefaultConfig().Instagram
	base := []Option{
		WithTransport(rt),
		WithLogger(logger.NewNopLogger()),
		WithRetryConfig(&retry.Config{MaxAttempts: 3, Backoff: &retry.ConstantBackoff{Delay: time.Millisecond}}),
	}
	return NewClient(cfg, testSession(), append(base, opts...)...), rt
}

func TestTimelineRequest(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, map[string]interface{}{"status": "ok"}), nil
	})

	_, err := client.Timeline(context.Background(), "")
	require.NoError(t, err)
	_, err = client.Timeline(context.Background(), "cursor-2")
	require.NoError(t, err)

	require.Equal(t, 2, rt.count())
	req := rt.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, BaseURL+"/feed/timeline/", req.URL.String())
	assert.Equal(t, "csrftoken=tok; ds_user_id=42; sessionid=sid", req.Header.Get("Cookie"))
	assert.Equal(t, "tok", req.Header.Get("X-CSRFToken"))
	assert.Equal(t, "uuid-1", req.Header.Get("X-IG-Device-ID"))
	assert.Equal(t, "android-0123456789abcdef", req.Header.Get("X-IG-Android-ID"))
	assert.Equal(t, config.DefaultConfig().Instagram.AppID, req.Header.Get("X-IG-App-ID"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))
	assert.Contains(t, req.Header.Get("Content-Type"), "application/x-www-form-urlencoded")

	first, err := url.ParseQuery(rt.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "1", first.Get("is_from_startup"))
	assert.Equal(t, "0", first.Get("is_pull_to_refresh"))
	assert.Equal(t, "", first.Get("max_id"))
	assert.Equal(t, "phone-1", first.Get("phone_id"))
	assert.Equal(t, "uuid-1", first.Get("device_id"))

	second, err := url.ParseQuery(rt.bodies[1])
	require.NoError(t, err)
	assert.Equal(t, "0", second.Get("is_from_startup"))
	assert.Equal(t, "cursor-2", second.Get("max_id"))
}

func TestSessionUserAgentWins(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, map[string]interface{}{"status": "ok"}), nil
	})
	sess := testSession()
	sess.UserAgent = "custom-agent"
	client.SetSession(sess)

	_, err := client.Timeline(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "custom-agent", rt.requests[0].Header.Get("User-Agent"))
}

func TestFeedParsing(t *testing.T) {
	body := `{
		"status": "ok",
		"feed_items": [
			{"media_or_ad": {"id": "1_42", "pk": 1}},
			{"suggested_users": {"type": 2}},
			{"media_or_ad": {"id": "2_42", "pk": 2}}
		],
		"next_max_id": 123456789,
		"more_available": true
	}`
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, body), nil
	})

	page, err := NewTimelineSource(client).FetchPage(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, models.FormatMobile, page.Items[0].Format)
	assert.Equal(t, "1_42", normalize.PostID(page.Items[0]))
	assert.Equal(t, "123456789", page.NextCursor)
}

func TestFeedFallsBackToItems(t *testing.T) {
	var resp FeedResponse
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{"pk":1},{"pk":2}],"next_max_id":"abc"}`), &resp))

	assert.Len(t, resp.Media(), 2)
	assert.Equal(t, cursor("abc"), resp.NextMaxID)

	require.NoError(t, json.Unmarshal([]byte(`{"items":[],"next_max_id":null}`), &resp))
	assert.Empty(t, resp.Media())
	assert.Equal(t, cursor(""), resp.NextMaxID)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected igerrors.ErrorType
	}{
		{"too many requests", http.StatusTooManyRequests, `{"status":"fail"}`, igerrors.ErrorTypeRateLimit},
		{"please wait", http.StatusBadRequest, `{"status":"fail","message":"Please wait a few minutes before you try again."}`, igerrors.ErrorTypeRateLimit},
		{"unauthorized", http.StatusUnauthorized, ``, igerrors.ErrorTypeAuth},
		{"forbidden", http.StatusForbidden, `{}`, igerrors.ErrorTypeAuth},
		{"login required", http.StatusOK, `{"status":"fail","message":"login_required"}`, igerrors.ErrorTypeAuth},
		{"checkpoint", http.StatusBadRequest, `{"status":"fail","message":"challenge","error_type":"checkpoint_challenge_required"}`, igerrors.ErrorTypeAuth},
		{"not found", http.StatusNotFound, ``, igerrors.ErrorTypeNotFound},
		{"bad request", http.StatusBadRequest, `{"status":"fail","message":"bad"}`, igerrors.ErrorTypeClient},
		{"server error", http.StatusServiceUnavailable, ``, igerrors.ErrorTypeServerError},
		{"malformed", http.StatusOK, `<html>`, igerrors.ErrorTypeParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				return newResponse(tt.status, tt.body), nil
			})

			_, err := client.Timeline(context.Background(), "")
			require.Error(t, err)
			assert.Equal(t, tt.expected, igerrors.TypeOf(err))

			var apiErr *igerrors.Error
			require.True(t, errors.As(err, &apiErr))
			if tt.expected != igerrors.ErrorTypeParsing {
				assert.Equal(t, tt.status, apiErr.Code)
			}
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	_, err := client.Timeline(context.Background(), "")
	assert.Equal(t, igerrors.ErrorTypeNetwork, igerrors.TypeOf(err))
}

func TestRateLimitThrottlesLimiter(t *testing.T) {
	limiter := ratelimit.NewPerMinute(6000, 10)
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusTooManyRequests, ``), nil
	}, WithLimiter(limiter))

	before := limiter.Rate()
	_, err := client.Timeline(context.Background(), "")
	require.Error(t, err)
	assert.InDelta(t, before/2, limiter.Rate(), 1e-6)
}

func TestCancelledContext(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Timeline(ctx, "")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, rt.count(), "limiter wait fails before any request")
}

func TestCurrentUser(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"status":"ok","user":{"pk":42,"username":"alice","full_name":"Alice"}}`), nil
	})

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID())
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "/api/v1/accounts/current_user/", rt.requests[0].URL.Path)
}

func TestCurrentUserMissingIsAuthError(t *testing.T) {
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"status":"ok"}`), nil
	})

	_, err := client.CurrentUser(context.Background())
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeAuth))
}

func TestUserByUsername(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"status":"ok","user":{"pk":"777","username":"bob","follower_count":1200}}`), nil
	})

	user, err := client.UserByUsername(context.Background(), "@bob/")
	require.NoError(t, err)
	assert.Equal(t, "777", user.ID())
	assert.Equal(t, 1200, user.FollowerCount)
	assert.Equal(t, "/api/v1/users/bob/usernameinfo/", rt.requests[0].URL.Path)

	_, err = client.UserByUsername(context.Background(), "not valid!")
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeClient))
	assert.Equal(t, 1, rt.count())
}

func TestUserSourcePaging(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("max_id") == "" {
			return newResponse(http.StatusOK, `{"items":[{"id":"1_7"}],"next_max_id":"p2","more_available":true}`), nil
		}
		return newResponse(http.StatusOK, `{"items":[{"id":"2_7"}],"more_available":false}`), nil
	})
	src := NewUserSource(client, "7")

	page, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, "p2", page.NextCursor)

	page, err = src.FetchPage(context.Background(), page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	assert.Equal(t, http.MethodGet, rt.requests[1].Method)
	assert.Equal(t, "/api/v1/feed/user/7/", rt.requests[1].URL.Path)
	assert.Equal(t, "p2", rt.requests[1].URL.Query().Get("max_id"))
}

func TestFetchPostByShortcodeRetries(t *testing.T) {
	id, err := normalize.ShortcodeToID("CxYz")
	require.NoError(t, err)

	calls := 0
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return newResponse(http.StatusBadGateway, ``), nil
		}
		assert.Equal(t, "/api/v1/media/"+id+"/info/", req.URL.Path)
		return newResponse(http.StatusOK, `{"status":"ok","items":[{"id":"`+id+`_1","code":"CxYz"}]}`), nil
	})

	raw, err := client.FetchPost(context.Background(), "CxYz")
	require.NoError(t, err)
	assert.Equal(t, models.FormatMobile, raw.Format)
	assert.Equal(t, 3, calls)
}

func TestFetchPostFallsBackToWeb(t *testing.T) {
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if strings.HasPrefix(req.URL.Path, "/api/v1/media/") {
			return newResponse(http.StatusNotFound, ``), nil
		}
		assert.Equal(t, "/p/CxYz/", req.URL.Path)
		assert.Equal(t, "1", req.URL.Query().Get("__a"))
		return newResponse(http.StatusOK, `{"graphql":{"shortcode_media":{"id":"99","shortcode":"CxYz"}}}`), nil
	}, WithWebBaseURL("https://web.test"))

	raw, err := client.FetchPost(context.Background(), "CxYz")
	require.NoError(t, err)
	assert.Equal(t, models.FormatWeb, raw.Format)
	assert.Equal(t, "99", normalize.PostID(raw))
}

func TestFetchPostFallsBackToLegacy(t *testing.T) {
	tl := logger.NewTestLogger()
	client, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusNotFound, ``), nil
	}, WithLogger(tl))

	raw, err := client.FetchPost(context.Background(), "CxYz")
	require.NoError(t, err)
	assert.Equal(t, models.FormatLegacy, raw.Format)
	assert.JSONEq(t, `{"shortcode":"CxYz"}`, string(raw.Payload))
	assert.True(t, tl.HasMessage("Web lookup failed, using shortcode only"))

	want, _ := normalize.ShortcodeToID("CxYz")
	assert.Equal(t, want, normalize.PostID(raw))
}

func TestFetchPostAuthErrorStopsFallbacks(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusUnauthorized, ``), nil
	})

	_, err := client.FetchPost(context.Background(), "CxYz")
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeAuth))
	assert.Equal(t, 1, rt.count())
}

func TestFetchPostNumericIDHasNoFallback(t *testing.T) {
	client, rt := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusNotFound, ``), nil
	})

	_, err := client.FetchPost(context.Background(), "123456")
	assert.True(t, igerrors.IsType(err, igerrors.ErrorTypeNotFound))
	assert.Equal(t, 1, rt.count())
}
