/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"time"

	"github.com/acronis/go-ratelimit/store"
)

// Decision is the result of an evaluation.
type Decision struct {
	Allowed bool

	// Limit is the limit of the policy the decision was made with.
	Limit int

	// CurrentCount is the number of admitted requests within the window, including this one if it was admitted.
	CurrentCount int

	// Remaining is max(0, Limit-CurrentCount).
	Remaining int

	// ResetAt is when the decision may change: the block expiry for a blocked key,
	// otherwise the moment the oldest counted entry leaves the window.
	ResetAt time.Time

	// BlockedUntil is zero if the key is not blocked.
	BlockedUntil time.Time

	// RetryAfter is zero for admitted requests, otherwise the time left until ResetAt.
	RetryAfter time.Duration

	// Degraded is set when the decision was made without the shared store (see FailureStrategy).
	Degraded bool

	// Exempt is set when the key matched an exempt pattern of the throttler and the store was not consulted.
	Exempt bool
}

// Blocked reports whether the key is blocked.
func (d Decision) Blocked() bool {
	return !d.BlockedUntil.IsZero()
}

func makeDecision(policy Policy, now time.Time, res store.EvalResult) Decision {
	d := Decision{
		Allowed:      res.Admitted,
		Limit:        policy.Limit,
		CurrentCount: res.Count,
		Remaining:    remaining(policy.Limit, res.Count),
	}
	switch {
	case res.BlockedUntilMs > now.UnixMilli():
		d.BlockedUntil = time.UnixMilli(res.BlockedUntilMs)
		d.ResetAt = d.BlockedUntil
	case res.Count > 0:
		// The window is inclusive, so the oldest entry stops counting 1ms after oldest+window.
		d.ResetAt = time.UnixMilli(res.OldestMs + policy.Window.Milliseconds() + 1)
	default:
		d.ResetAt = now.Add(policy.Window)
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(now, d.ResetAt)
	}
	return d
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

func retryAfter(now, resetAt time.Time) time.Duration {
	if d := resetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
