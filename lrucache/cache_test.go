/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"strconv"
	"sync"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type testMetrics struct {
	Amount    int
	Hits      int
	Misses    int
	Evictions int
}

func requireMetrics(t *testing.T, pm *PrometheusMetrics, want testMetrics) {
	t.Helper()
	require.Equal(t, want.Amount, int(promtestutil.ToFloat64(pm.EntriesAmount)), "amount")
	require.Equal(t, want.Hits, int(promtestutil.ToFloat64(pm.HitsTotal)), "hits")
	require.Equal(t, want.Misses, int(promtestutil.ToFloat64(pm.MissesTotal)), "misses")
	require.Equal(t, want.Evictions, int(promtestutil.ToFloat64(pm.EvictionsTotal)), "evictions")
}

func TestLRUCache(t *testing.T) {
	newCounter := func(key string) func() *int {
		return func() *int {
			n := len(key)
			return &n
		}
	}

	tests := []struct {
		name        string
		maxEntries  int
		fn          func(t *testing.T, cache *LRUCache[string, *int])
		wantMetrics testMetrics
	}{
		{
			name:       "get not existing keys",
			maxEntries: 10,
			fn: func(t *testing.T, cache *LRUCache[string, *int]) {
				for _, key := range []string{"rl:{api:a}", "rl:{api:b}"} {
					_, found := cache.Get(key)
					require.False(t, found)
				}
			},
			wantMetrics: testMetrics{Misses: 2},
		},
		{
			name:       "get or add returns the same value for the key",
			maxEntries: 10,
			fn: func(t *testing.T, cache *LRUCache[string, *int]) {
				first, exists := cache.GetOrAdd("rl:{api:a}", newCounter("rl:{api:a}"))
				require.False(t, exists)
				second, exists := cache.GetOrAdd("rl:{api:a}", newCounter("rl:{api:a}"))
				require.True(t, exists)
				require.Same(t, first, second)

				val, found := cache.Get("rl:{api:a}")
				require.True(t, found)
				require.Same(t, first, val)
			},
			wantMetrics: testMetrics{Amount: 1, Hits: 2, Misses: 1},
		},
		{
			name:       "least recently used key is evicted",
			maxEntries: 2,
			fn: func(t *testing.T, cache *LRUCache[string, *int]) {
				cache.GetOrAdd("a", newCounter("a"))
				cache.GetOrAdd("b", newCounter("b"))
				_, found := cache.Get("a") // "b" becomes the least recently used
				require.True(t, found)
				cache.GetOrAdd("c", newCounter("c"))

				require.Equal(t, 2, cache.Len())
				_, found = cache.Get("b")
				require.False(t, found)
				_, found = cache.Get("a")
				require.True(t, found)
			},
			wantMetrics: testMetrics{Amount: 2, Hits: 2, Misses: 4, Evictions: 1},
		},
		{
			name:       "remove and purge are not evictions",
			maxEntries: 10,
			fn: func(t *testing.T, cache *LRUCache[string, *int]) {
				cache.GetOrAdd("a", newCounter("a"))
				cache.GetOrAdd("b", newCounter("b"))
				cache.GetOrAdd("c", newCounter("c"))
				require.True(t, cache.Remove("a"))
				require.False(t, cache.Remove("a"))
				require.Equal(t, 2, cache.Len())
				cache.Purge()
				require.Zero(t, cache.Len())
			},
			wantMetrics: testMetrics{Misses: 3},
		},
		{
			name:       "unbounded",
			maxEntries: Unbounded,
			fn: func(t *testing.T, cache *LRUCache[string, *int]) {
				for i := 0; i < 1000; i++ {
					key := strconv.Itoa(i)
					cache.GetOrAdd(key, newCounter(key))
				}
				require.Equal(t, 1000, cache.Len())
			},
			wantMetrics: testMetrics{Amount: 1000, Misses: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{Name: "test_cache"})
			cache, err := New[string, *int](tt.maxEntries, pm)
			require.NoError(t, err)
			tt.fn(t, cache)
			requireMetrics(t, pm, tt.wantMetrics)
		})
	}
}

func TestLRUCache_Concurrency(t *testing.T) {
	cache, err := New[string, *int](5, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := strconv.Itoa(i % 10)
			n := i
			cache.GetOrAdd(key, func() *int { return &n })
		}(i)
	}
	wg.Wait()
	require.Equal(t, 5, cache.Len())
}

func TestNew_Errors(t *testing.T) {
	_, err := New[string, int](-1, nil)
	require.EqualError(t, err, "maxEntries must be greater or equal to 0 (unbounded), got -1")
}

func TestPrometheusMetrics_Register(t *testing.T) {
	pm := NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{Namespace: "test", Name: "registered_cache"})
	pm.MustRegister()
	defer pm.Unregister()
	require.Panics(t, pm.MustRegister)
}
