/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/store"
	"github.com/acronis/go-ratelimit/store/memstore"
)

// Opts contains optional parameters for constructing Limiter.
type Opts struct {
	Clock   Clock
	Logger  log.FieldLogger
	Metrics *MetricsCollector
}

// Limiter is the entry point of the rate limiting: it resolves the throttler by name,
// validates the caller key and evaluates it against the shared store.
// It is safe for concurrent use.
type Limiter struct {
	registry       *Registry
	storeKeyPrefix string
	maxKeyLength   int
	handler        *FailureHandler
	evaluator      *Evaluator
	localStore     *memstore.Store
	clock          Clock
	metrics        *MetricsCollector
}

// New creates a new Limiter. Configuration errors are returned as *ConfigurationError.
// The adapter is not owned by the Limiter and is not closed by Close.
func New(cfg *Config, adapter store.Adapter, opts Opts) (*Limiter, error) {
	if adapter == nil {
		return nil, &ConfigurationError{Err: errors.New("store adapter cannot be nil")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := cfg.NewRegistry()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}

	l := &Limiter{
		registry:       registry,
		storeKeyPrefix: cfg.StoreKeyPrefix,
		maxKeyLength:   cfg.MaxKeyLength,
		clock:          opts.Clock,
		metrics:        opts.Metrics,
	}
	l.evaluator = NewEvaluator(adapter, EvaluatorOpts{
		Clock:        opts.Clock,
		Timeout:      cfg.EvaluationTimeout,
		MaxEntries:   cfg.MaxWindowSize,
		Logger:       opts.Logger,
		DebugLogging: cfg.EnableDebugLogging,
	})

	var fallback LocalLimiter
	if cfg.FailureStrategy == LocalFallback {
		switch cfg.Fallback.Algorithm {
		case FallbackGCRA:
			if fallback, err = newGCRAFallback(registry, opts.Clock, cfg.Fallback.MaxKeys); err != nil {
				return nil, &ConfigurationError{Key: cfg.KeyPrefix() + "." + cfgKeyFallbackAlgorithm, Err: err}
			}
		case FallbackSlidingWindow:
			if fallback, err = newWindowFallback(opts.Clock, cfg.Fallback.MaxKeys, opts.Metrics.fallbackKeys()); err != nil {
				return nil, &ConfigurationError{Key: cfg.KeyPrefix() + "." + cfgKeyFallbackMaxKeys, Err: err}
			}
		default:
			exact := newExactFallback(opts.Clock, cfg.MaxWindowSize)
			l.localStore = exact.store
			fallback = exact
		}
	}
	l.handler = NewFailureHandler(l.evaluator, cfg.FailureStrategy, fallback, FailureHandlerOpts{
		Clock:   opts.Clock,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	return l, nil
}

// Evaluate decides whether a request with the key is admitted by the named throttler.
// Store unavailability never surfaces here, it's translated by the failure strategy.
// Returned errors are caller errors: ErrUnknownThrottler, ErrEmptyKey and *KeyTooLongError.
func (l *Limiter) Evaluate(ctx context.Context, throttlerName, key string) (Decision, error) {
	t, err := l.lookup(throttlerName, key)
	if err != nil {
		return Decision{}, err
	}
	started := time.Now()
	var d Decision
	if t.IsExempt(key) {
		d = Decision{
			Allowed:   true,
			Limit:     t.Policy.Limit,
			Remaining: t.Policy.Limit,
			ResetAt:   l.clock.Now(),
			Exempt:    true,
		}
	} else {
		d = l.handler.Evaluate(ctx, t, l.StoreKey(t.Name, key))
	}
	l.metrics.observeDecision(t.Name, d, time.Since(started))
	return d, nil
}

// Reset removes the window and the block of the key in the shared store.
// Unlike Evaluate, it returns store unavailability errors.
func (l *Limiter) Reset(ctx context.Context, throttlerName, key string) error {
	t, err := l.lookup(throttlerName, key)
	if err != nil {
		return err
	}
	return l.evaluator.Reset(ctx, l.StoreKey(t.Name, key))
}

func (l *Limiter) lookup(throttlerName, key string) (*Throttler, error) {
	t, ok := l.registry.Get(throttlerName)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownThrottler, throttlerName)
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	if len(key) > l.maxKeyLength {
		return nil, &KeyTooLongError{Length: len(key), MaxLength: l.maxKeyLength}
	}
	return t, nil
}

// StoreKey returns the key under which the window of the caller key is kept in the shared store.
// The throttler name and the key form a hash tag, so the window and its block marker share a cluster slot.
func (l *Limiter) StoreKey(throttlerName, key string) string {
	return l.storeKeyPrefix + "{" + throttlerName + ":" + key + "}"
}

// StoreKeyPrefix returns the prefix of all store keys of the limiter.
func (l *Limiter) StoreKeyPrefix() string {
	return l.storeKeyPrefix
}

// StoreKeyPattern returns a glob pattern that matches store keys (and block markers) of the throttler.
func (l *Limiter) StoreKeyPattern(throttlerName string) string {
	return l.storeKeyPrefix + "{" + throttlerName + ":*"
}

// Registry returns the registry of throttlers.
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// FailureStrategy returns the configured failure strategy.
func (l *Limiter) FailureStrategy() FailureStrategy {
	return l.handler.Strategy()
}

// LocalStore returns the in-memory store of the "exact" local fallback, or nil if it's not used.
// Its windows need eviction the same way as the shared store.
func (l *Limiter) LocalStore() *memstore.Store {
	return l.localStore
}

// Close releases the resources of the local fallback. The shared store adapter is left open.
func (l *Limiter) Close() error {
	if l.localStore != nil {
		return l.localStore.Close()
	}
	return nil
}
