/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware provides HTTP middleware that admits requests by the distributed sliding-window limiter.
package middleware

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
)

// Error codes used in response bodies.
const (
	ErrCodeTooManyRequests     = "tooManyRequests"
	ErrCodeInvalidRateLimitKey = "invalidRateLimitKey"
)

// DefaultErrDomain is used in response bodies when Opts.ErrDomain is empty.
const DefaultErrDomain = "RateLimit"

// Response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitLogFieldKey is the name of the logged field that contains the rate limit key.
const RateLimitLogFieldKey = "rate_limit_key"

// ErrMissingKey is returned by key functions when the request doesn't carry the key.
var ErrMissingKey = errors.New("rate limit key is missing in request")

// GetKeyFunc returns the rate limit key of the request. Requests with bypass=true are not limited.
type GetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// Params contains the data of the rate limit decision of the request.
type Params struct {
	ErrDomain string
	Throttler string
	Key       string
	Decision  limiter.Decision
}

// OnRejectFunc is called for the request that is not admitted.
type OnRejectFunc func(rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, logger log.FieldLogger)

// OnErrorFunc is called when the request cannot be evaluated (e.g. the key cannot be extracted or is too long).
type OnErrorFunc func(rw http.ResponseWriter, r *http.Request, params Params, err error, next http.Handler, logger log.FieldLogger)

// Opts represents options for the RateLimit middleware.
type Opts struct {
	// GetKey extracts the key from the request, KeyByRemoteAddr is used by default.
	GetKey GetKeyFunc

	ErrDomain string

	// DryRun makes the middleware only log requests that would be rejected.
	DryRun bool

	Logger   log.FieldLogger
	OnReject OnRejectFunc
	OnError  OnErrorFunc
}

type rateLimitHandler struct {
	next      http.Handler
	limiter   *limiter.Limiter
	throttler string
	getKey    GetKeyFunc
	errDomain string
	dryRun    bool
	logger    log.FieldLogger
	onReject  OnRejectFunc
	onError   OnErrorFunc
}

// RateLimit is a middleware that admits HTTP requests by the named throttler of the limiter.
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset (Unix time in seconds) headers.
// Rejected requests get 429 with Retry-After, requests with invalid keys get 400.
func RateLimit(l *limiter.Limiter, throttler string, opts Opts) (func(next http.Handler) http.Handler, error) {
	if _, ok := l.Registry().Get(throttler); !ok {
		return nil, fmt.Errorf("%w %q", limiter.ErrUnknownThrottler, throttler)
	}
	if opts.GetKey == nil {
		opts.GetKey = KeyByRemoteAddr
	}
	if opts.ErrDomain == "" {
		opts.ErrDomain = DefaultErrDomain
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.OnReject == nil {
		opts.OnReject = DefaultOnReject
	}
	if opts.OnError == nil {
		opts.OnError = DefaultOnError
	}
	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:      next,
			limiter:   l,
			throttler: throttler,
			getKey:    opts.GetKey,
			errDomain: opts.ErrDomain,
			dryRun:    opts.DryRun,
			logger:    opts.Logger,
			onReject:  opts.OnReject,
			onError:   opts.OnError,
		}
	}, nil
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(l *limiter.Limiter, throttler string, opts Opts) func(next http.Handler) http.Handler {
	mw, err := RateLimit(l, throttler, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	params := Params{ErrDomain: h.errDomain, Throttler: h.throttler}

	key, bypass, err := h.getKey(r)
	if err != nil {
		h.onError(rw, r, params, err, h.next, h.logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}
	params.Key = key

	d, err := h.limiter.Evaluate(r.Context(), h.throttler, key)
	if err != nil {
		h.onError(rw, r, params, err, h.next, h.logger)
		return
	}
	params.Decision = d
	setRateLimitHeaders(rw, d)

	if d.Allowed {
		h.next.ServeHTTP(rw, r)
		return
	}
	if h.dryRun {
		h.logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String("throttler", h.throttler), log.String(RateLimitLogFieldKey, key))
		h.next.ServeHTTP(rw, r)
		return
	}
	h.onReject(rw, r, params, h.next, h.logger)
}

func setRateLimitHeaders(rw http.ResponseWriter, d limiter.Decision) {
	rw.Header().Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	rw.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	rw.Header().Set(HeaderRateLimitReset, strconv.FormatInt(int64(math.Ceil(float64(d.ResetAt.UnixMilli())/1000)), 10))
}

// DefaultOnReject responds with 429 and the Retry-After header (in seconds, at least 1).
func DefaultOnReject(rw http.ResponseWriter, r *http.Request, params Params, _ http.Handler, logger log.FieldLogger) {
	retryAfter := int(math.Ceil(params.Decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))

	logger.Info("too many requests",
		log.String("throttler", params.Throttler),
		log.String(RateLimitLogFieldKey, params.Key),
		log.Bool("blocked", params.Decision.Blocked()),
		log.Bool("degraded", params.Decision.Degraded),
		log.String("user_agent", r.UserAgent()),
	)
	RespondError(rw, http.StatusTooManyRequests, NewError(params.ErrDomain, ErrCodeTooManyRequests, "Too many requests."), logger)
}

// DefaultOnError responds with 400 for invalid keys and with 500 for other errors.
func DefaultOnError(
	rw http.ResponseWriter, _ *http.Request, params Params, err error, _ http.Handler, logger log.FieldLogger,
) {
	if errors.Is(err, ErrMissingKey) || errors.Is(err, limiter.ErrEmptyKey) || errors.Is(err, limiter.ErrKeyTooLong) {
		logger.Warn("invalid rate limit key", log.String("throttler", params.Throttler), log.Error(err))
		apiErr := NewError(params.ErrDomain, ErrCodeInvalidRateLimitKey, "Invalid rate limit key.").
			AddContext("reason", err.Error())
		RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}
	logger.Error("rate limit evaluation failed", log.String("throttler", params.Throttler), log.Error(err))
	RespondError(rw, http.StatusInternalServerError, NewError(params.ErrDomain, "internalError", "Internal error."), logger)
}

// KeyByRemoteAddr uses the IP address of the client as the key.
func KeyByRemoteAddr(r *http.Request) (key string, bypass bool, err error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without port.
		return r.RemoteAddr, false, nil
	}
	return host, false, nil
}

// KeyByHeader uses the value of the request header as the key.
// Requests without the header are rejected as ones with invalid keys.
func KeyByHeader(name string) GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		val := r.Header.Get(name)
		if val == "" {
			return "", false, fmt.Errorf("%w: header %q", ErrMissingKey, name)
		}
		return val, false, nil
	}
}

// KeyByRoutePattern prefixes the key returned by inner with the chi route pattern of the request,
// so every route gets its own window. The middleware must be installed with Router.With or inside Route
// for the pattern to be known.
func KeyByRoutePattern(inner GetKeyFunc) GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		key, bypass, err := inner(r)
		if err != nil || bypass {
			return key, bypass, err
		}
		pattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			pattern = rctx.RoutePattern()
		}
		return r.Method + " " + pattern + "|" + key, false, nil
	}
}
