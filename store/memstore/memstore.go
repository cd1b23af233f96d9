/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides an in-memory implementation of store.Adapter.
// State is local to the process, so it doesn't enforce a global limit across multiple instances.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-ratelimit/store"
)

// BackendName is used in errors and logs.
const BackendName = "memory"

type keyState struct {
	mu             sync.Mutex
	entries        []int64 // sorted ascending
	blockedUntilMs int64
	removed        bool
}

// Store is an in-memory store.Adapter with a lock per key.
// The map-level lock is held only for looking up and inserting key states.
type Store struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

var (
	_ store.Adapter    = (*Store)(nil)
	_ store.KeyScanner = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{keys: make(map[string]*keyState)}
}

// lockState returns the locked state for the key, creating it if requested.
// Returns nil if the key doesn't exist and create is false.
func (s *Store) lockState(key string, create bool) *keyState {
	for {
		s.mu.Lock()
		st, ok := s.keys[key]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil
			}
			st = &keyState{}
			s.keys[key] = st
		}
		s.mu.Unlock()

		st.mu.Lock()
		if !st.removed {
			return st
		}
		// The state was evicted between lookup and locking, look it up again.
		st.mu.Unlock()
	}
}

// removeLocked drops the state from the map. Caller must hold st.mu.
func (s *Store) removeLocked(key string, st *keyState) {
	st.removed = true
	s.mu.Lock()
	if cur, ok := s.keys[key]; ok && cur == st {
		delete(s.keys, key)
	}
	s.mu.Unlock()
}

// AtomicEvaluate implements store.Adapter.
func (s *Store) AtomicEvaluate(ctx context.Context, key string, req store.EvalRequest) (store.EvalResult, error) {
	if err := ctx.Err(); err != nil {
		return store.EvalResult{}, store.NewUnavailableError(BackendName, "evaluate", key, err)
	}

	st := s.lockState(key, true)
	defer st.mu.Unlock()

	windowStart := req.NowMs - req.WindowMs

	if st.blockedUntilMs > req.NowMs {
		return store.EvalResult{
			Count:          countSince(st.entries, windowStart),
			OldestMs:       oldestSince(st.entries, windowStart),
			BlockedUntilMs: st.blockedUntilMs,
		}, nil
	}

	st.entries = trimBefore(st.entries, windowStart)
	res := store.EvalResult{Count: len(st.entries)}
	if res.Count < req.Limit {
		st.entries = insertSorted(st.entries, req.NowMs)
		res.Admitted = true
		res.Count++
		if req.MaxEntries > 0 && len(st.entries) > req.MaxEntries {
			st.entries = append(st.entries[:0], st.entries[len(st.entries)-req.MaxEntries:]...)
			res.Count = len(st.entries)
		}
	} else if req.BlockMs > 0 {
		st.blockedUntilMs = req.NowMs + req.BlockMs
	}
	if st.blockedUntilMs > req.NowMs {
		res.BlockedUntilMs = st.blockedUntilMs
	}
	if len(st.entries) != 0 {
		res.OldestMs = st.entries[0]
	}
	return res, nil
}

// TrimExpired implements store.Adapter.
// The key is removed when it has no entries left and its block marker (if any) expired before beforeMs.
func (s *Store) TrimExpired(ctx context.Context, key string, beforeMs int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, store.NewUnavailableError(BackendName, "trim", key, err)
	}
	st := s.lockState(key, false)
	if st == nil {
		return 0, nil
	}
	defer st.mu.Unlock()

	st.entries = trimBefore(st.entries, beforeMs)
	if len(st.entries) == 0 && st.blockedUntilMs < beforeMs {
		s.removeLocked(key, st)
	}
	return len(st.entries), nil
}

// DeleteKey implements store.Adapter.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return store.NewUnavailableError(BackendName, "delete", key, err)
	}
	st := s.lockState(key, false)
	if st == nil {
		return nil
	}
	defer st.mu.Unlock()
	st.entries = nil
	st.blockedUntilMs = 0
	s.removeLocked(key, st)
	return nil
}

// ScanKeys implements store.KeyScanner.
// Match is a glob pattern where "*" matches any sequence of characters.
// Keys are iterated in the order of their hashes and the cursor is the hash to continue from,
// so removing keys during the iteration doesn't make it skip the others (as with Redis SCAN).
// Keys added during the iteration may be missed.
func (s *Store) ScanKeys(ctx context.Context, match string, cursor uint64, count int) ([]string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, store.NewUnavailableError(BackendName, "scan", "", err)
	}
	if count <= 0 {
		count = 10
	}
	matches := func(string) bool { return true }
	if match != "" && match != "*" {
		matches = glob.Compile(match)
	}

	type hashedKey struct {
		hash uint64
		key  string
	}
	var candidates []hashedKey
	s.mu.Lock()
	for k := range s.keys {
		if h := scanHash(k); h >= cursor && matches(k) {
			candidates = append(candidates, hashedKey{h, k})
		}
	}
	s.mu.Unlock()
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hash != candidates[j].hash {
			return candidates[i].hash < candidates[j].hash
		}
		return candidates[i].key < candidates[j].key
	})

	n := min(count, len(candidates))
	// Keys with the same hash can't be split between two calls.
	for n < len(candidates) && candidates[n].hash == candidates[n-1].hash {
		n++
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = candidates[i].key
	}
	if n == len(candidates) {
		return keys, 0, nil
	}
	return keys, candidates[n-1].hash + 1, nil
}

// scanHash returns a non-zero hash of the key, zero is the initial cursor.
func scanHash(key string) uint64 {
	return xxhash.Sum64String(key)>>1 + 1
}

// Close implements store.Adapter.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of keys currently kept in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// EntryCount returns the number of stored entries for the key, including stale ones.
func (s *Store) EntryCount(key string) int {
	st := s.lockState(key, false)
	if st == nil {
		return 0
	}
	defer st.mu.Unlock()
	return len(st.entries)
}

// Keys returns all keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	for k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res
}

// trimBefore removes entries strictly older than boundMs.
func trimBefore(entries []int64, boundMs int64) []int64 {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i] >= boundMs })
	if idx == 0 {
		return entries
	}
	return append(entries[:0], entries[idx:]...)
}

func countSince(entries []int64, boundMs int64) int {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i] >= boundMs })
	return len(entries) - idx
}

func oldestSince(entries []int64, boundMs int64) int64 {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i] >= boundMs })
	if idx == len(entries) {
		return 0
	}
	return entries[idx]
}

func insertSorted(entries []int64, ts int64) []int64 {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i] > ts })
	entries = append(entries, 0)
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = ts
	return entries
}
