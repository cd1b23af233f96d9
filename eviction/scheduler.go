/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package eviction provides the scheduler that periodically trims stale window entries
// of keys nobody evaluates anymore, so that the store doesn't grow unbounded.
// It runs independently of evaluations and relies on the per-key atomicity of the store.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/service"
	"github.com/acronis/go-ratelimit/store"
)

// ErrScanNotSupported is returned when the store adapter cannot iterate over its keys.
var ErrScanNotSupported = errors.New("store adapter doesn't support key scanning")

// PassStats contains the results of a single eviction pass.
type PassStats struct {
	ScannedKeys int
	TrimmedKeys int
	EmptiedKeys int // keys with no entries left after trimming
	Errors      int
	Duration    time.Duration
}

// Stats contains cumulative results of all passes.
type Stats struct {
	Passes      int64
	ScannedKeys int64
	TrimmedKeys int64
	Errors      int64
}

// SchedulerOpts contains optional parameters for constructing Scheduler.
type SchedulerOpts struct {
	Clock   limiter.Clock
	Logger  log.FieldLogger
	Metrics *MetricsCollector
}

// Scheduler trims stale entries of all throttlers' keys in batches.
type Scheduler struct {
	adapter        store.Adapter
	scanner        store.KeyScanner
	batchTrimmer   store.BatchTrimmer
	throttlers     []*limiter.Throttler
	storeKeyPrefix string
	cfg            Config
	pacer          *rate.Limiter
	clock          limiter.Clock
	logger         log.FieldLogger
	metrics        *MetricsCollector

	passes      atomic.Int64
	scannedKeys atomic.Int64
	trimmedKeys atomic.Int64
	errors      atomic.Int64
}

// NewScheduler creates a new Scheduler for the keys of all throttlers of the registry.
// The store key prefix must be the same as the one the limiter uses.
func NewScheduler(
	adapter store.Adapter, registry *limiter.Registry, storeKeyPrefix string, cfg *Config, opts SchedulerOpts,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scanner, ok := adapter.(store.KeyScanner)
	if !ok {
		return nil, ErrScanNotSupported
	}
	if opts.Clock == nil {
		opts.Clock = limiter.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	s := &Scheduler{
		adapter:        adapter,
		scanner:        scanner,
		throttlers:     registry.Throttlers(),
		storeKeyPrefix: storeKeyPrefix,
		cfg:            *cfg,
		clock:          opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
	if cfg.EnableBatchOperations {
		s.batchTrimmer, _ = adapter.(store.BatchTrimmer)
	}
	if cfg.BatchesPerSecond > 0 {
		s.pacer = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return s, nil
}

// Stats returns cumulative results of all passes.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Passes:      s.passes.Load(),
		ScannedKeys: s.scannedKeys.Load(),
		TrimmedKeys: s.trimmedKeys.Load(),
		Errors:      s.errors.Load(),
	}
}

// RunOnce makes a single eviction pass over the keys of all throttlers.
// Failures of single keys are logged and counted, they don't stop the pass.
// The pass is interrupted when ctx is done or a key scan fails.
func (s *Scheduler) RunOnce(ctx context.Context) (PassStats, error) {
	started := time.Now()
	var stats PassStats
	var err error
	for _, t := range s.throttlers {
		if err = s.evictThrottler(ctx, t, &stats); err != nil {
			break
		}
	}
	stats.Duration = time.Since(started)

	s.passes.Inc()
	s.scannedKeys.Add(int64(stats.ScannedKeys))
	s.trimmedKeys.Add(int64(stats.TrimmedKeys))
	s.errors.Add(int64(stats.Errors))
	s.metrics.observePass(stats.Duration)

	fields := []log.Field{
		log.Int("scanned_keys", stats.ScannedKeys),
		log.Int("trimmed_keys", stats.TrimmedKeys),
		log.Int("emptied_keys", stats.EmptiedKeys),
		log.Int("errors", stats.Errors),
		log.DurationMs("duration_ms", stats.Duration),
	}
	if err != nil {
		s.logger.Error("eviction pass interrupted", append(fields, log.Error(err))...)
		return stats, err
	}
	s.logger.Info("eviction pass finished", fields...)
	return stats, nil
}

func (s *Scheduler) evictThrottler(ctx context.Context, t *limiter.Throttler, stats *PassStats) error {
	pattern := s.storeKeyPrefix + "{" + t.Name + ":*"
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, next, err := s.scanner.ScanKeys(ctx, pattern, cursor, s.cfg.BatchSize)
		if err != nil {
			s.metrics.addErrors(t.Name, 1)
			stats.Errors++
			return fmt.Errorf("scan keys of throttler %q: %w", t.Name, err)
		}
		keys = windowKeys(keys)
		stats.ScannedKeys += len(keys)

		if len(keys) != 0 {
			if s.pacer != nil {
				if err = s.pacer.Wait(ctx); err != nil {
					return err
				}
			}
			s.trimBatch(ctx, t, keys, stats)
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// windowKeys drops block markers, their TTL removes them.
// A window key always ends with the closing brace of its hash tag.
func windowKeys(keys []string) []string {
	res := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, "}") {
			res = append(res, k)
		}
	}
	return res
}

func (s *Scheduler) trimBatch(ctx context.Context, t *limiter.Throttler, keys []string, stats *PassStats) {
	beforeMs := s.clock.Now().Add(-t.Policy.Window).UnixMilli()

	var trimmed, failed int
	if s.batchTrimmer != nil {
		results, err := s.batchTrimmer.TrimExpiredBatch(ctx, keys, beforeMs)
		if err != nil {
			failed = len(keys)
			s.logger.Warn("failed to trim batch of keys",
				log.String("throttler", t.Name), log.Int("keys", len(keys)), log.Error(err))
		} else {
			for i, res := range results {
				if res.Err != nil {
					failed++
					s.logKeyError(t, keys[i], res.Err)
					continue
				}
				trimmed++
				if res.Remaining == 0 {
					stats.EmptiedKeys++
				}
			}
		}
	} else {
		for _, key := range keys {
			remaining, err := s.adapter.TrimExpired(ctx, key, beforeMs)
			if err != nil {
				failed++
				s.logKeyError(t, key, err)
				continue
			}
			trimmed++
			if remaining == 0 {
				stats.EmptiedKeys++
			}
		}
	}

	stats.TrimmedKeys += trimmed
	stats.Errors += failed
	s.metrics.addTrimmed(t.Name, trimmed)
	s.metrics.addErrors(t.Name, failed)
}

func (s *Scheduler) logKeyError(t *limiter.Throttler, key string, err error) {
	s.logger.Warn("failed to trim key", log.String("throttler", t.Name), log.String("key", key), log.Error(err))
}

// Worker returns the scheduler as a service.Worker making a single pass per run.
// Wrap it into service.PeriodicWorker (see NewWorkerUnit) to run passes with the configured interval.
func (s *Scheduler) Worker() service.Worker {
	return service.WorkerFunc(func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() != nil {
			// Stopping.
			return nil
		}
		return err
	})
}

// NewWorkerUnit returns a service unit that runs eviction passes every CleanupInterval until it's stopped.
// Stopping the unit cancels the current pass, evaluations in flight are not affected.
func (s *Scheduler) NewWorkerUnit(name string) *service.WorkerUnit {
	pw := service.NewPeriodicWorkerWithOpts(s.Worker(), s.cfg.CleanupInterval, s.logger, service.PeriodicWorkerOpts{
		Name:         name,
		InitialDelay: s.cfg.CleanupInterval,
	})
	return service.NewWorkerUnitWithOpts(pw, service.WorkerUnitOpts{MetricsRegisterer: s})
}

// MustRegisterMetrics registers the scheduler metrics in Prometheus.
// Implements service.MetricsRegisterer interface.
func (s *Scheduler) MustRegisterMetrics() {
	s.metrics.MustRegister()
}

// UnregisterMetrics unregisters the scheduler metrics in Prometheus.
// Implements service.MetricsRegisterer interface.
func (s *Scheduler) UnregisterMetrics() {
	s.metrics.Unregister()
}
