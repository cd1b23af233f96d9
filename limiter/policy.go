/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"fmt"
	"time"
)

// Policy is a sliding-window policy of a throttler.
type Policy struct {
	// Limit is the maximum number of admitted requests within the window. Zero denies everything.
	Limit int

	// Window is the duration of the sliding window. Millisecond precision is used.
	Window time.Duration

	// BlockDuration, if not zero, blocks the key for this duration once a request exceeds the limit.
	// All requests are denied while the key is blocked, even if the window has capacity again.
	BlockDuration time.Duration
}

// Validate checks that the policy values are in range.
func (p Policy) Validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("limit should be >= 0, got %d", p.Limit)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window should be >= 1ms, got %s", p.Window)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("block duration should be >= 0, got %s", p.BlockDuration)
	}
	return nil
}

func (p Policy) String() string {
	if p.BlockDuration == 0 {
		return fmt.Sprintf("%d/%s", p.Limit, p.Window)
	}
	return fmt.Sprintf("%d/%s (block %s)", p.Limit, p.Window, p.BlockDuration)
}
