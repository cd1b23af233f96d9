/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package limiter decides whether a request identified by a caller key is admitted
// under a sliding-window limit of a named throttler.
//
// The window state lives in a shared store (see the store package), so decisions are consistent
// across all processes using the same store. Every evaluation is a single atomic
// evaluate-and-record operation on the store side: stale entries are trimmed, the remaining ones are
// counted and a new entry is recorded only if the limit is not reached yet.
//
// When the store is unavailable, the configured FailureStrategy turns the failure into a Decision
// (fail-open, fail-closed or local-fallback), so Limiter.Evaluate never returns store errors.
package limiter
