/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/log/logtest"
	"github.com/acronis/go-ratelimit/store/memstore"
	"github.com/acronis/go-ratelimit/testutil"
)

const testStartMs = 1_700_000_000_000

func newTestLimiter(t *testing.T, clock *testutil.ManualClock) *limiter.Limiter {
	t.Helper()
	cfg := limiter.NewDefaultConfig()
	cfg.Throttlers = map[string]limiter.ThrottlerConfig{
		"api":   {LimitCount: 2, WindowDurationMs: 10_000, ExemptKeys: []string{"10.0.0.*"}},
		"login": {LimitCount: 1, WindowDurationMs: 60_000, BlockDurationMs: 300_000},
	}
	cfg.MaxKeyLength = 64
	l, err := limiter.New(cfg, memstore.New(), limiter.Opts{Clock: clock, Logger: logtest.NewLogger()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close())
	})
	return l
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
}

func sendRequest(h http.Handler, method, target, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func requireErrorResponse(t *testing.T, resp *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	require.Equal(t, wantStatus, resp.Code)
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	var respData ErrorResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&respData))
	require.Equal(t, DefaultErrDomain, respData.Err.Domain)
	require.Equal(t, wantCode, respData.Err.Code)
}

func TestRateLimit(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	logger := logtest.NewRecorder()
	h := MustRateLimit(l, "api", Opts{Logger: logger})(okHandler())

	for i := 0; i < 2; i++ {
		resp := sendRequest(h, http.MethodGet, "/", "192.168.1.1:5000", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "2", resp.Header().Get(HeaderRateLimitLimit))
		require.Equal(t, strconv.Itoa(1-i), resp.Header().Get(HeaderRateLimitRemaining))
		require.Empty(t, resp.Header().Get(HeaderRetryAfter))
	}

	// The oldest entry leaves the window at t0+10001ms.
	resp := sendRequest(h, http.MethodGet, "/", "192.168.1.1:5001", nil)
	requireErrorResponse(t, resp, http.StatusTooManyRequests, ErrCodeTooManyRequests)
	require.Equal(t, "0", resp.Header().Get(HeaderRateLimitRemaining))
	require.Equal(t, "11", resp.Header().Get(HeaderRetryAfter))
	require.Equal(t, strconv.FormatInt(testStartMs/1000+11, 10), resp.Header().Get(HeaderRateLimitReset))

	entry, found := logger.FindEntry("too many requests")
	require.True(t, found)
	field, found := entry.FindField(RateLimitLogFieldKey)
	require.True(t, found)
	require.Equal(t, "192.168.1.1", string(field.Bytes))

	// Another client has its own window.
	resp = sendRequest(h, http.MethodGet, "/", "192.168.1.2:5000", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	clock.Advance(10_001 * time.Millisecond)
	resp = sendRequest(h, http.MethodGet, "/", "192.168.1.1:5000", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimit_Block(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	h := MustRateLimit(l, "login", Opts{})(okHandler())

	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil).Code)

	resp := sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil)
	requireErrorResponse(t, resp, http.StatusTooManyRequests, ErrCodeTooManyRequests)
	require.Equal(t, "300", resp.Header().Get(HeaderRetryAfter))

	// The window is over, but the block is not.
	clock.Advance(61 * time.Second)
	resp = sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "239", resp.Header().Get(HeaderRetryAfter))
}

func TestRateLimit_ExemptKey(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	h := MustRateLimit(l, "api", Opts{})(okHandler())

	for i := 0; i < 5; i++ {
		resp := sendRequest(h, http.MethodGet, "/", "10.0.0.7:5000", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "2", resp.Header().Get(HeaderRateLimitRemaining))
	}
}

func TestRateLimit_DryRun(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	logger := logtest.NewRecorder()
	h := MustRateLimit(l, "login", Opts{DryRun: true, Logger: logger})(okHandler())

	for i := 0; i < 3; i++ {
		resp := sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil)
		require.Equal(t, http.StatusOK, resp.Code)
	}
	entries := logger.FindAllEntriesByFilter(func(entry logtest.RecordedEntry) bool {
		return strings.HasPrefix(entry.Text, "too many requests")
	})
	require.Len(t, entries, 2)
}

func TestRateLimit_KeyByHeader(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	h := MustRateLimit(l, "login", Opts{GetKey: KeyByHeader("X-Client-ID")})(okHandler())

	resp := sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil)
	requireErrorResponse(t, resp, http.StatusBadRequest, ErrCodeInvalidRateLimitKey)
	require.Empty(t, resp.Header().Get(HeaderRateLimitLimit))

	resp = sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000",
		http.Header{"X-Client-Id": {strings.Repeat("x", 65)}})
	requireErrorResponse(t, resp, http.StatusBadRequest, ErrCodeInvalidRateLimitKey)

	clientA := http.Header{"X-Client-Id": {"client-a"}}
	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", clientA).Code)
	require.Equal(t, http.StatusTooManyRequests, sendRequest(h, http.MethodPost, "/login", "192.168.1.2:5000", clientA).Code)
	clientB := http.Header{"X-Client-Id": {"client-b"}}
	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", clientB).Code)
}

func TestRateLimit_KeyByRoutePattern(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	mw := MustRateLimit(l, "login", Opts{GetKey: KeyByRoutePattern(KeyByRemoteAddr)})

	var gotKeys []string
	router := chi.NewRouter()
	h := func(rw http.ResponseWriter, r *http.Request) {
		key, _, err := KeyByRoutePattern(KeyByRemoteAddr)(r)
		require.NoError(t, err)
		gotKeys = append(gotKeys, key)
		rw.WriteHeader(http.StatusOK)
	}
	router.With(mw).Get("/items/{id}", h)
	router.With(mw).Get("/users/{id}", h)

	require.Equal(t, http.StatusOK, sendRequest(router, http.MethodGet, "/items/1", "192.168.1.1:5000", nil).Code)
	// Same route pattern, same window.
	require.Equal(t, http.StatusTooManyRequests, sendRequest(router, http.MethodGet, "/items/2", "192.168.1.1:5000", nil).Code)
	require.Equal(t, http.StatusOK, sendRequest(router, http.MethodGet, "/users/1", "192.168.1.1:5000", nil).Code)

	require.Equal(t, []string{"GET /items/{id}|192.168.1.1", "GET /users/{id}|192.168.1.1"}, gotKeys)
}

func TestRateLimit_Bypass(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)
	getKey := func(r *http.Request) (string, bool, error) {
		if r.Header.Get("X-Internal") != "" {
			return "", true, nil
		}
		return KeyByRemoteAddr(r)
	}
	h := MustRateLimit(l, "login", Opts{GetKey: getKey})(okHandler())

	internal := http.Header{"X-Internal": {"1"}}
	for i := 0; i < 3; i++ {
		resp := sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", internal)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Empty(t, resp.Header().Get(HeaderRateLimitLimit))
	}
	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil).Code)
}

func TestRateLimit_CustomCallbacks(t *testing.T) {
	clock := testutil.NewManualClock(testStartMs)
	l := newTestLimiter(t, clock)

	var rejected []Params
	var keyErrs []error
	h := MustRateLimit(l, "login", Opts{
		GetKey: KeyByHeader("X-Client-ID"),
		OnReject: func(rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, _ log.FieldLogger) {
			rejected = append(rejected, params)
			rw.WriteHeader(http.StatusServiceUnavailable)
		},
		OnError: func(rw http.ResponseWriter, r *http.Request, _ Params, err error, next http.Handler, _ log.FieldLogger) {
			keyErrs = append(keyErrs, err)
			next.ServeHTTP(rw, r)
		},
	})(okHandler())

	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", nil).Code)
	require.Len(t, keyErrs, 1)
	require.True(t, errors.Is(keyErrs[0], ErrMissingKey))

	client := http.Header{"X-Client-Id": {"client-a"}}
	require.Equal(t, http.StatusOK, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", client).Code)
	require.Equal(t, http.StatusServiceUnavailable, sendRequest(h, http.MethodPost, "/login", "192.168.1.1:5000", client).Code)
	require.Len(t, rejected, 1)
	require.Equal(t, "login", rejected[0].Throttler)
	require.Equal(t, "client-a", rejected[0].Key)
	require.True(t, rejected[0].Decision.Blocked())
}

func TestRateLimit_UnknownThrottler(t *testing.T) {
	l := newTestLimiter(t, testutil.NewManualClock(testStartMs))
	_, err := RateLimit(l, "unknown", Opts{})
	require.ErrorIs(t, err, limiter.ErrUnknownThrottler)
	require.Panics(t, func() {
		MustRateLimit(l, "unknown", Opts{})
	})
}

func TestKeyByRemoteAddr(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{remoteAddr: "192.168.1.1:5000", want: "192.168.1.1"},
		{remoteAddr: "[::1]:5000", want: "::1"},
		{remoteAddr: "192.168.1.1", want: "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			key, bypass, err := KeyByRemoteAddr(req)
			require.NoError(t, err)
			require.False(t, bypass)
			require.Equal(t, tt.want, key)
		})
	}
}
