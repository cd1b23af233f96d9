/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned (wrapped into *UnavailableError) when the store cannot complete an operation.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError normalizes backend-specific failures (I/O, timeouts, protocol errors).
type UnavailableError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

// NewUnavailableError wraps err into *UnavailableError.
// If err is already *UnavailableError, it's returned as is.
func NewUnavailableError(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	var unavailableErr *UnavailableError
	if errors.As(err, &unavailableErr) {
		return err
	}
	return &UnavailableError{Backend: backend, Op: op, Key: key, Err: err}
}

func (e *UnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) true for any *UnavailableError.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// IsUnavailable reports whether err is a store unavailability error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
