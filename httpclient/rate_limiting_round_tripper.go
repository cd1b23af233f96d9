/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an http.RoundTripper that admits outgoing requests by the distributed limiter,
// so all instances of a service share one quota of a remote API.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-ratelimit/limiter"
)

// DefaultRateLimitingWaitTimeout is the default maximum time RoundTrip waits for admission.
const DefaultRateLimitingWaitTimeout = 15 * time.Second

// ErrWaitTimeoutExceeded is wrapped by RateLimitingWaitError when the request can't be admitted within the wait timeout.
var ErrWaitTimeoutExceeded = errors.New("rate limit wait timeout exceeded")

// RateLimitingRoundTripperOpts represents an options for RateLimitingRoundTripper.
type RateLimitingRoundTripperOpts struct {
	// GetKey returns the rate limit key of the request. The host of the request URL is used by default.
	GetKey func(r *http.Request) string

	// WaitTimeout is the maximum time to wait for admission. Negative value disables waiting.
	WaitTimeout time.Duration
}

// RateLimitingRoundTripper wraps implementing http.RoundTripper interface object
// and delays outgoing requests until the throttler of the limiter admits them.
type RateLimitingRoundTripper struct {
	Delegate    http.RoundTripper
	Limiter     *limiter.Limiter
	Throttler   string
	WaitTimeout time.Duration

	getKey func(r *http.Request) string
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper with default options.
func NewRateLimitingRoundTripper(
	delegate http.RoundTripper, l *limiter.Limiter, throttler string,
) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, l, throttler, RateLimitingRoundTripperOpts{})
}

// NewRateLimitingRoundTripperWithOpts creates a new RateLimitingRoundTripper with specified options.
// For options that are not presented, the default values will be used.
func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, l *limiter.Limiter, throttler string, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	if _, ok := l.Registry().Get(throttler); !ok {
		return nil, fmt.Errorf("%w %q", limiter.ErrUnknownThrottler, throttler)
	}
	if opts.GetKey == nil {
		opts.GetKey = func(r *http.Request) string {
			return r.URL.Host
		}
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultRateLimitingWaitTimeout
	}
	if opts.WaitTimeout < 0 {
		opts.WaitTimeout = 0
	}
	return &RateLimitingRoundTripper{
		Delegate:    delegate,
		Limiter:     l,
		Throttler:   throttler,
		WaitTimeout: opts.WaitTimeout,
		getKey:      opts.GetKey,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
// The request is sent only after the limiter admits it. If it's not admitted within the wait timeout,
// *RateLimitingWaitError is returned and the request is not sent.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := rt.waitForAdmission(r.Context(), rt.getKey(r)); err != nil {
		if r.Body != nil {
			_ = r.Body.Close() // Per RoundTripper contract.
		}
		return nil, err
	}
	return rt.Delegate.RoundTrip(r)
}

func (rt *RateLimitingRoundTripper) waitForAdmission(ctx context.Context, key string) error {
	deadline := time.Now().Add(rt.WaitTimeout)
	for {
		d, err := rt.Limiter.Evaluate(ctx, rt.Throttler, key)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		if time.Now().Add(d.RetryAfter).After(deadline) {
			return &RateLimitingWaitError{Inner: ErrWaitTimeoutExceeded, Decision: d}
		}
		timer := time.NewTimer(d.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RateLimitingWaitError{Inner: ctx.Err(), Decision: d}
		case <-timer.C:
		}
	}
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper when rate limit is exceeded.
type RateLimitingWaitError struct {
	Inner error

	// Decision is the last denying decision.
	Decision limiter.Decision
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}
