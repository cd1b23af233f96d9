/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"

	"github.com/RussellLuo/slidingwindow"
	"github.com/throttled/throttled/v2"
	gcramemstore "github.com/throttled/throttled/v2/store/memstore"

	"github.com/acronis/go-ratelimit/lrucache"
	"github.com/acronis/go-ratelimit/store/memstore"
)

// DefaultFallbackMaxKeys is the default number of keys tracked by the approximate fallbacks.
const DefaultFallbackMaxKeys = 10000

// LocalLimiter makes decisions in process memory when the shared store is unavailable.
type LocalLimiter interface {
	Evaluate(ctx context.Context, throttler *Throttler, storeKey string) (Decision, error)
}

// exactFallback runs the same evaluate-and-record operation against an in-memory store.
type exactFallback struct {
	store     *memstore.Store
	evaluator *Evaluator
}

func newExactFallback(clock Clock, maxEntries int) *exactFallback {
	s := memstore.New()
	return &exactFallback{
		store:     s,
		evaluator: NewEvaluator(s, EvaluatorOpts{Clock: clock, MaxEntries: maxEntries}),
	}
}

func (f *exactFallback) Evaluate(ctx context.Context, throttler *Throttler, storeKey string) (Decision, error) {
	return f.evaluator.Evaluate(ctx, storeKey, throttler.Policy)
}

// gcraFallback approximates the window limit with GCRA (leaky bucket) limiters,
// one per throttler, each tracking at most maxKeys keys.
type gcraFallback struct {
	clock    Clock
	limiters map[string]*throttled.GCRARateLimiterCtx
}

func newGCRAFallback(registry *Registry, clock Clock, maxKeys int) (*gcraFallback, error) {
	f := &gcraFallback{clock: clock, limiters: make(map[string]*throttled.GCRARateLimiterCtx)}
	for _, t := range registry.Throttlers() {
		if t.Policy.Limit == 0 {
			continue
		}
		gcraStore, err := gcramemstore.NewCtx(maxKeys)
		if err != nil {
			return nil, fmt.Errorf("new in-memory GCRA store: %w", err)
		}
		quota := throttled.RateQuota{
			MaxRate:  throttled.PerDuration(t.Policy.Limit, t.Policy.Window),
			MaxBurst: t.Policy.Limit - 1,
		}
		lim, err := throttled.NewGCRARateLimiterCtx(gcraStore, quota)
		if err != nil {
			return nil, fmt.Errorf("new GCRA rate limiter for throttler %q: %w", t.Name, err)
		}
		f.limiters[t.Name] = lim
	}
	return f, nil
}

func (f *gcraFallback) Evaluate(ctx context.Context, throttler *Throttler, storeKey string) (Decision, error) {
	now := f.clock.Now()
	lim, ok := f.limiters[throttler.Name]
	if !ok {
		// Zero limit.
		return Decision{
			Limit:      throttler.Policy.Limit,
			ResetAt:    now.Add(throttler.Policy.Window),
			RetryAfter: throttler.Policy.Window,
		}, nil
	}
	limited, res, err := lim.RateLimitCtx(ctx, storeKey, 1)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Allowed:      !limited,
		Limit:        throttler.Policy.Limit,
		Remaining:    res.Remaining,
		CurrentCount: throttler.Policy.Limit - res.Remaining,
		ResetAt:      now.Add(res.ResetAfter),
	}
	if limited {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// windowFallback approximates the sliding window with two fixed windows per key.
// The least recently used keys are forgotten when more than maxKeys keys are tracked.
type windowFallback struct {
	clock Clock
	keys  *lrucache.LRUCache[string, *slidingwindow.Limiter]
}

func newWindowFallback(clock Clock, maxKeys int, metrics lrucache.MetricsCollector) (*windowFallback, error) {
	keys, err := lrucache.New[string, *slidingwindow.Limiter](maxKeys, metrics)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &windowFallback{clock: clock, keys: keys}, nil
}

func (f *windowFallback) limiter(policy Policy, storeKey string) *slidingwindow.Limiter {
	lim, _ := f.keys.GetOrAdd(storeKey, func() *slidingwindow.Limiter {
		l, _ := slidingwindow.NewLimiter(policy.Window, int64(policy.Limit), func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
		return l
	})
	return lim
}

// Evaluate doesn't know the exact count: admitted decisions report the whole limit as remaining
// (as fail-open does), denied ones report the limit as the current count.
func (f *windowFallback) Evaluate(_ context.Context, throttler *Throttler, storeKey string) (Decision, error) {
	now := f.clock.Now()
	policy := throttler.Policy
	resetAt := now.Truncate(policy.Window).Add(policy.Window)
	d := Decision{
		Allowed: f.limiter(policy, storeKey).AllowN(now, 1),
		Limit:   policy.Limit,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = policy.Limit
	} else {
		d.CurrentCount = policy.Limit
		d.RetryAfter = resetAt.Sub(now)
	}
	return d, nil
}
