/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package store defines the capability interface the sliding-window limiter uses to talk to a shared store.
//
// Two implementations are provided:
//   - memstore: single-process backend with a lock per key, used in tests and as a local fallback;
//   - redisstore: networked backend that keeps entries in Redis sorted sets and evaluates them
//     with a server-side Lua script.
//
// Adapters never leak backend-specific errors, every failure is reported as *UnavailableError
// and matches ErrUnavailable via errors.Is.
package store
