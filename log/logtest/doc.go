/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides log.FieldLogger implementations for tests:
// a synchronous human-readable logger and a Recorder that keeps entries (e.g. degraded-mode
// decisions of the limiter or per-key eviction errors) for later assertions.
package logtest
