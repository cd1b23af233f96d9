/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/store"
)

// DefaultEvaluationTimeout is used when EvaluatorOpts.Timeout is zero.
const DefaultEvaluationTimeout = 100 * time.Millisecond

// EvaluatorOpts contains optional parameters for constructing Evaluator.
type EvaluatorOpts struct {
	Clock Clock

	// Timeout bounds a single store round trip. Exceeding it makes the evaluation fail with store.ErrUnavailable.
	Timeout time.Duration

	// MaxEntries bounds the number of entries stored per key (the oldest ones are truncated). Zero means no bound.
	MaxEntries int

	Logger       log.FieldLogger
	DebugLogging bool
}

// Evaluator executes the atomic evaluate-and-record operation against the store and turns its result into a Decision.
// It is safe for concurrent use and holds no locks of its own.
type Evaluator struct {
	adapter      store.Adapter
	clock        Clock
	timeout      time.Duration
	maxEntries   int
	logger       log.FieldLogger
	debugLogging bool
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(adapter store.Adapter, opts EvaluatorOpts) *Evaluator {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultEvaluationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Evaluator{
		adapter:      adapter,
		clock:        opts.Clock,
		timeout:      opts.Timeout,
		maxEntries:   opts.MaxEntries,
		logger:       opts.Logger,
		debugLogging: opts.DebugLogging,
	}
}

// Evaluate decides whether a request for storeKey is admitted under policy, recording it if so.
// The only error it returns is a store unavailability error (errors.Is(err, store.ErrUnavailable)).
// If ctx is canceled after the store has committed the entry, the entry stands.
func (e *Evaluator) Evaluate(ctx context.Context, storeKey string, policy Policy) (Decision, error) {
	started := time.Now()
	now := e.clock.Now()
	nowMs := now.UnixMilli()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.adapter.AtomicEvaluate(ctx, storeKey, store.EvalRequest{
		NowMs:      nowMs,
		WindowMs:   policy.Window.Milliseconds(),
		BlockMs:    policy.BlockDuration.Milliseconds(),
		Limit:      policy.Limit,
		MaxEntries: e.maxEntries,
		Member:     strconv.FormatInt(nowMs, 10) + "-" + xid.New().String(),
	})
	if err != nil {
		if !store.IsUnavailable(err) {
			err = store.NewUnavailableError("store", "evaluate", storeKey, err)
		}
		return Decision{}, err
	}

	d := makeDecision(policy, now, res)
	if e.debugLogging {
		safeLog(func() {
			e.logger.Debug("rate limit evaluated", decisionLogFields("evaluate", storeKey, d, time.Since(started))...)
		})
	}
	return d, nil
}

// Reset removes all window entries and the block marker of storeKey.
func (e *Evaluator) Reset(ctx context.Context, storeKey string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.adapter.DeleteKey(ctx, storeKey); err != nil {
		if !store.IsUnavailable(err) {
			err = store.NewUnavailableError("store", "delete", storeKey, err)
		}
		return err
	}
	return nil
}

func decisionLogFields(operation, key string, d Decision, elapsed time.Duration) []log.Field {
	fields := []log.Field{
		log.String("operation", operation),
		log.String("key", key),
		log.Bool("allowed", d.Allowed),
		log.Int("limit", d.Limit),
		log.Int("current", d.CurrentCount),
		log.Int("remaining", d.Remaining),
		log.DurationMs("duration_ms", elapsed),
	}
	if d.Blocked() {
		fields = append(fields, log.Int64("blocked_until_ms", d.BlockedUntil.UnixMilli()))
	}
	return fields
}

// safeLog calls fn and swallows a panic of the logger, logging must never fail an evaluation.
func safeLog(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
