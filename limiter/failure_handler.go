/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"time"

	"github.com/acronis/go-ratelimit/log"
)

// FailureHandlerOpts contains optional parameters for constructing FailureHandler.
type FailureHandlerOpts struct {
	Clock   Clock
	Logger  log.FieldLogger
	Metrics *MetricsCollector
}

// FailureHandler evaluates requests with the Evaluator and makes a decision by the failure strategy
// when the shared store cannot be reached. Every such decision is marked as degraded, logged and counted.
type FailureHandler struct {
	evaluator *Evaluator
	strategy  FailureStrategy
	fallback  LocalLimiter
	clock     Clock
	logger    log.FieldLogger
	metrics   *MetricsCollector
}

// NewFailureHandler creates a new FailureHandler.
// The fallback is used only by the LocalFallback strategy and may be nil for others.
func NewFailureHandler(evaluator *Evaluator, strategy FailureStrategy, fallback LocalLimiter, opts FailureHandlerOpts) *FailureHandler {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &FailureHandler{
		evaluator: evaluator,
		strategy:  strategy,
		fallback:  fallback,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Strategy returns the configured failure strategy.
func (h *FailureHandler) Strategy() FailureStrategy {
	return h.strategy
}

// Evaluate evaluates the request against the shared store. It never fails:
// store unavailability is translated into a decision by the failure strategy.
func (h *FailureHandler) Evaluate(ctx context.Context, throttler *Throttler, storeKey string) Decision {
	d, err := h.evaluator.Evaluate(ctx, storeKey, throttler.Policy)
	if err == nil {
		return d
	}
	return h.handle(ctx, throttler, storeKey, err)
}

func (h *FailureHandler) handle(ctx context.Context, throttler *Throttler, storeKey string, storeErr error) Decision {
	started := time.Now()
	now := h.clock.Now()

	var d Decision
	fields := make([]log.Field, 0, 12)
	switch h.strategy {
	case FailOpen:
		d = openDecision(throttler.Policy, now)
	case LocalFallback:
		if h.fallback == nil {
			d = closedDecision(throttler.Policy, now)
			break
		}
		var err error
		// The request itself may already be canceled by the store timeout.
		if d, err = h.fallback.Evaluate(context.WithoutCancel(ctx), throttler, storeKey); err != nil {
			fields = append(fields, log.NamedError("fallback_error", err))
			d = closedDecision(throttler.Policy, now)
		}
	default:
		d = closedDecision(throttler.Policy, now)
	}
	d.Degraded = true

	h.metrics.incStoreFailures(throttler.Name, h.strategy)
	safeLog(func() {
		fields = append(fields,
			log.String("throttler", throttler.Name),
			log.String("strategy", string(h.strategy)),
			log.Error(storeErr),
		)
		fields = append(fields, decisionLogFields("evaluate", storeKey, d, time.Since(started))...)
		h.logger.Warn("rate limit store is unavailable, decision is made by failure strategy", fields...)
	})
	return d
}

func openDecision(policy Policy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   now.Add(policy.Window),
	}
}

func closedDecision(policy Policy, now time.Time) Decision {
	return Decision{
		Limit:      policy.Limit,
		ResetAt:    now.Add(policy.Window),
		RetryAfter: policy.Window,
	}
}
