/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import "time"

// Clock provides the current time used for window computations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is a Clock that returns the wall-clock time.
var SystemClock Clock = systemClock{}
