/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"errors"
	"fmt"
)

// ErrUnknownThrottler is returned when the requested throttler is not registered.
var ErrUnknownThrottler = errors.New("unknown throttler")

// ErrEmptyKey is returned when the rate limit key is empty.
var ErrEmptyKey = errors.New("empty rate limit key")

// ErrKeyTooLong is matched (errors.Is) by every *KeyTooLongError.
var ErrKeyTooLong = errors.New("rate limit key too long")

// KeyTooLongError is returned when the caller key exceeds the configured maximum length.
// It's a caller error, the store is not consulted.
type KeyTooLongError struct {
	Length    int
	MaxLength int
}

func (e *KeyTooLongError) Error() string {
	return fmt.Sprintf("%v: %d bytes, max %d", ErrKeyTooLong, e.Length, e.MaxLength)
}

// Is makes errors.Is(err, ErrKeyTooLong) true.
func (e *KeyTooLongError) Is(target error) bool {
	return target == ErrKeyTooLong
}

// ConfigurationError is returned at construction time for invalid configuration.
type ConfigurationError struct {
	// Key is the full configuration key (e.g. "limiter.maxWindowSize"), may be empty.
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
