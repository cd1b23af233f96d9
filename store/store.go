/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
)

// EvalRequest contains parameters of a single atomic evaluate-and-record operation.
// All timestamps and durations are in milliseconds.
type EvalRequest struct {
	NowMs    int64
	WindowMs int64
	BlockMs  int64
	Limit    int

	// MaxEntries is an upper bound on stored entries per key.
	// The oldest entries beyond this bound are truncated. Zero means no bound.
	MaxEntries int

	// Member is a unique identifier of the entry that will be recorded if the request is admitted.
	Member string
}

// EvalResult is a result of the atomic evaluate-and-record operation.
type EvalResult struct {
	// Admitted reports whether a new entry was recorded.
	Admitted bool

	// Count is the number of entries within the window after the operation.
	Count int

	// OldestMs is a timestamp of the oldest entry within the window (0 if there are no entries).
	OldestMs int64

	// BlockedUntilMs is a timestamp until which the key is blocked (0 if it's not blocked).
	BlockedUntilMs int64
}

// Adapter is a narrow capability interface over the shared store.
// Implementations must be safe for concurrent use and must execute AtomicEvaluate
// as one indivisible operation relative to other callers on the same key.
// All returned errors must be wrapped into *UnavailableError.
type Adapter interface {
	// AtomicEvaluate trims stale entries, counts the remaining ones and records a new entry
	// if the limit is not reached yet. See EvalRequest and EvalResult for details.
	AtomicEvaluate(ctx context.Context, key string, req EvalRequest) (EvalResult, error)

	// TrimExpired removes entries older than beforeMs and returns the number of remaining entries.
	TrimExpired(ctx context.Context, key string, beforeMs int64) (remaining int, err error)

	// DeleteKey removes all data (entries and block marker) stored for the key.
	DeleteKey(ctx context.Context, key string) error

	// Close releases resources owned by the adapter.
	Close() error
}

// KeyScanner is implemented by adapters that can iterate over stored keys.
// The cursor-based iteration is finished when the returned cursor is 0.
type KeyScanner interface {
	ScanKeys(ctx context.Context, match string, cursor uint64, count int) (keys []string, next uint64, err error)
}

// TrimResult is the result of trimming a single key within a batch.
type TrimResult struct {
	Remaining int
	Err       error
}

// BatchTrimmer is implemented by adapters that can trim many keys in a single round trip.
// The returned slice contains per-key results in the order of keys,
// the second returned value is an error of the whole batch (no key was trimmed then).
type BatchTrimmer interface {
	TrimExpiredBatch(ctx context.Context, keys []string, beforeMs int64) ([]TrimResult, error)
}

// BlockKeySuffix is appended to the window key to build the key of the block marker.
const BlockKeySuffix = ":block"
