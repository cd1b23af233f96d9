/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package memstore

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/acronis/go-ratelimit/store"
)

type MemStoreTestSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestMemStore(t *testing.T) {
	suite.Run(t, new(MemStoreTestSuite))
}

func (ts *MemStoreTestSuite) SetupTest() {
	ts.store = New()
	ts.ctx = context.Background()
}

func (ts *MemStoreTestSuite) eval(key string, nowMs int64, limit int, windowMs, blockMs int64) store.EvalResult {
	res, err := ts.store.AtomicEvaluate(ts.ctx, key, store.EvalRequest{
		NowMs: nowMs, Limit: limit, WindowMs: windowMs, BlockMs: blockMs, Member: strconv.FormatInt(nowMs, 10),
	})
	ts.Require().NoError(err)
	return res
}

func (ts *MemStoreTestSuite) TestAdmitUntilLimit() {
	for i := 1; i <= 3; i++ {
		res := ts.eval("k", 1000, 3, 60000, 0)
		ts.True(res.Admitted)
		ts.Equal(i, res.Count)
		ts.Equal(int64(1000), res.OldestMs)
	}
	res := ts.eval("k", 1000, 3, 60000, 0)
	ts.False(res.Admitted)
	ts.Equal(3, res.Count)
	ts.Zero(res.BlockedUntilMs)
	ts.Equal(3, ts.store.EntryCount("k"))
}

func (ts *MemStoreTestSuite) TestInclusiveLowerBound() {
	ts.True(ts.eval("k", 0, 1, 60000, 0).Admitted)
	// Entry at 0 is still inside the window [0, 60000].
	ts.False(ts.eval("k", 60000, 1, 60000, 0).Admitted)
	// And stale at 60001.
	res := ts.eval("k", 60001, 1, 60000, 0)
	ts.True(res.Admitted)
	ts.Equal(1, res.Count)
	ts.Equal(int64(60001), res.OldestMs)
}

func (ts *MemStoreTestSuite) TestZeroLimitAlwaysDenies() {
	res := ts.eval("k", 1, 0, 1000, 0)
	ts.False(res.Admitted)
	ts.Zero(res.Count)
}

func (ts *MemStoreTestSuite) TestBlockShortCircuits() {
	ts.True(ts.eval("k", 0, 1, 1000, 5000).Admitted)
	res := ts.eval("k", 10, 1, 1000, 5000)
	ts.False(res.Admitted)
	ts.Equal(int64(5010), res.BlockedUntilMs)

	// The window entry is stale, but the key is still blocked.
	res = ts.eval("k", 2000, 1, 1000, 5000)
	ts.False(res.Admitted)
	ts.Zero(res.Count)
	ts.Equal(int64(5010), res.BlockedUntilMs)
	ts.Equal(1, ts.store.EntryCount("k"), "window state must not be touched while blocked")

	res = ts.eval("k", 5010, 1, 1000, 5000)
	ts.True(res.Admitted)
	ts.Zero(res.BlockedUntilMs)
}

func (ts *MemStoreTestSuite) TestMaxEntriesTruncatesOldest() {
	for i := 0; i < 150; i++ {
		res, err := ts.store.AtomicEvaluate(ts.ctx, "k", store.EvalRequest{
			NowMs: int64(i), Limit: 1000, WindowMs: 60000, MaxEntries: 100,
		})
		ts.Require().NoError(err)
		ts.True(res.Admitted)
		ts.LessOrEqual(res.Count, 100)
	}
	ts.Equal(100, ts.store.EntryCount("k"))
	res := ts.eval("k", 150, 1000, 60000, 0)
	ts.Equal(int64(50), res.OldestMs)
}

func (ts *MemStoreTestSuite) TestWindowChangeHonoredImmediately() {
	ts.eval("k", 0, 10, 60000, 0)
	ts.eval("k", 500, 10, 60000, 0)
	res := ts.eval("k", 1000, 10, 600, 0)
	ts.Equal(2, res.Count)
	ts.Equal(int64(500), res.OldestMs)
}

func (ts *MemStoreTestSuite) TestTrimExpiredAndDelete() {
	ts.eval("a", 0, 10, 1000, 0)
	ts.eval("a", 100, 10, 1000, 0)
	remaining, err := ts.store.TrimExpired(ts.ctx, "a", 50)
	ts.Require().NoError(err)
	ts.Equal(1, remaining)

	remaining, err = ts.store.TrimExpired(ts.ctx, "a", 1000)
	ts.Require().NoError(err)
	ts.Zero(remaining)
	ts.Zero(ts.store.Len())

	remaining, err = ts.store.TrimExpired(ts.ctx, "missing", 1000)
	ts.Require().NoError(err)
	ts.Zero(remaining)

	ts.eval("b", 0, 10, 1000, 0)
	ts.Require().NoError(ts.store.DeleteKey(ts.ctx, "b"))
	ts.Zero(ts.store.EntryCount("b"))
	ts.Require().NoError(ts.store.DeleteKey(ts.ctx, "b"))
}

func (ts *MemStoreTestSuite) TestTrimKeepsBlockedKeys() {
	ts.eval("k", 0, 1, 100, 10000)
	ts.eval("k", 1, 1, 100, 10000) // blocked until 10001
	remaining, err := ts.store.TrimExpired(ts.ctx, "k", 500)
	ts.Require().NoError(err)
	ts.Zero(remaining)
	ts.Equal(1, ts.store.Len())
	ts.False(ts.eval("k", 600, 1, 100, 10000).Admitted)
}

func (ts *MemStoreTestSuite) TestScanKeys() {
	for i := 0; i < 25; i++ {
		ts.eval("rl:{default:"+strconv.Itoa(i)+"}", 0, 1, 1000, 0)
	}
	ts.eval("rl:{strict:x}", 0, 1, 1000, 0)

	var all []string
	var cursor uint64
	for {
		keys, next, err := ts.store.ScanKeys(ts.ctx, "rl:{default:*", cursor, 10)
		ts.Require().NoError(err)
		ts.LessOrEqual(len(keys), 10)
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	ts.Len(all, 25)
	ts.Len(ts.store.Keys("rl:{strict:"), 1)
}

func (ts *MemStoreTestSuite) TestScanKeysWhileRemoving() {
	for i := 0; i < 25; i++ {
		ts.eval("rl:{default:"+strconv.Itoa(i)+"}", 0, 1, 1000, 0)
	}

	seen := make(map[string]bool)
	var cursor uint64
	for {
		keys, next, err := ts.store.ScanKeys(ts.ctx, "rl:{default:*", cursor, 4)
		ts.Require().NoError(err)
		for _, k := range keys {
			seen[k] = true
			ts.Require().NoError(ts.store.DeleteKey(ts.ctx, k))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	ts.Len(seen, 25)
	ts.Zero(ts.store.Len())
}

func (ts *MemStoreTestSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ts.store.AtomicEvaluate(ctx, "k", store.EvalRequest{NowMs: 1, Limit: 1, WindowMs: 1})
	ts.ErrorIs(err, store.ErrUnavailable)
	ts.Zero(ts.store.Len())
}

func TestMemStore_ConcurrentEvaluateAndTrim(t *testing.T) {
	s := New()
	ctx := context.Background()
	const limit = 50
	const callers = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < callers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := s.AtomicEvaluate(ctx, "k", store.EvalRequest{NowMs: 1000, Limit: limit, WindowMs: 60000})
			require.NoError(t, err)
			if res.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, err := s.TrimExpired(ctx, "k", 0)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, limit, admitted)
	require.Equal(t, limit, s.EntryCount("k"))
}
