/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"time"

	"go.uber.org/atomic"
)

// ManualClock is a clock that moves only when told to. Safe for concurrent use.
type ManualClock struct {
	nowMs atomic.Int64
}

// NewManualClock creates a ManualClock set to the given Unix time in milliseconds.
func NewManualClock(nowMs int64) *ManualClock {
	c := &ManualClock{}
	c.nowMs.Store(nowMs)
	return c
}

// Now returns the current time of the clock.
func (c *ManualClock) Now() time.Time {
	return time.UnixMilli(c.nowMs.Load())
}

// NowMs returns the current time of the clock in Unix milliseconds.
func (c *ManualClock) NowMs() int64 {
	return c.nowMs.Load()
}

// Set moves the clock to the given Unix time in milliseconds.
func (c *ManualClock) Set(nowMs int64) {
	c.nowMs.Store(nowMs)
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.nowMs.Add(d.Milliseconds())
}
