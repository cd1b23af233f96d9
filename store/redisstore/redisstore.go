/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"context"
	_ "embed" // for the evaluation script
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/retry"
	"github.com/acronis/go-ratelimit/store"
)

// BackendName is used in errors and logs.
const BackendName = "redis"

const connectRetryInterval = 200 * time.Millisecond

//go:embed evaluate.lua
var evaluateScriptSrc string

var evaluateScript = redis.NewScript(evaluateScriptSrc)

// Store is a store.Adapter backed by Redis sorted sets.
// Entries of a key are members of the sorted set scored by admission time,
// the block marker is a separate string key with a TTL.
type Store struct {
	client     redis.UniversalClient
	atomicity  Atomicity
	logger     log.FieldLogger
	ownsClient bool
}

var (
	_ store.Adapter      = (*Store)(nil)
	_ store.KeyScanner   = (*Store)(nil)
	_ store.BatchTrimmer = (*Store)(nil)
)

// Opts contains optional parameters for NewWithClient.
type Opts struct {
	// Atomicity is AtomicityScript if empty.
	Atomicity Atomicity
	Logger    log.FieldLogger
}

// New connects to Redis described by cfg. The connection is checked with PING and the evaluation
// script is loaded into the script cache, both retried with exponential backoff up to cfg.ConnectRetries times.
func New(ctx context.Context, cfg *Config, logger log.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, fmt.Errorf("build redis options: %w", err)
	}
	client := redis.NewClient(redisOpts)
	s := &Store{client: client, atomicity: cfg.Atomicity, ownsClient: true,
		logger: logger.With(log.String("backend", BackendName), log.String("addr", cfg.Addr()))}
	if s.atomicity == "" {
		s.atomicity = AtomicityScript
	}

	policy := retry.NewExponentialBackoffPolicy(connectRetryInterval, cfg.ConnectRetries)
	if err = retry.DoWithRetry(ctx, policy, isRetryableConnectErr, retry.LogNotify(s.logger, "redis connect"),
		s.prepare); err != nil {
		_ = client.Close()
		return nil, store.NewUnavailableError(BackendName, "connect", "", err)
	}
	s.logger.Info("connected to redis", log.String("atomicity", string(s.atomicity)))
	return s, nil
}

// NewWithClient creates a Store over an already configured client.
// The client is not closed by Store.Close.
func NewWithClient(client redis.UniversalClient, opts Opts) *Store {
	if opts.Atomicity == "" {
		opts.Atomicity = AtomicityScript
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Store{client: client, atomicity: opts.Atomicity, logger: opts.Logger}
}

func (s *Store) prepare(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if s.atomicity == AtomicityScript {
		return evaluateScript.Load(ctx, s.client).Err()
	}
	return nil
}

func isRetryableConnectErr(err error) bool {
	var redisErr redis.Error
	// Errors replied by the server (wrong password, unknown command) won't go away on retry.
	return !errors.As(err, &redisErr)
}

func blockKey(key string) string {
	return key + store.BlockKeySuffix
}

// AtomicEvaluate implements store.Adapter.
func (s *Store) AtomicEvaluate(ctx context.Context, key string, req store.EvalRequest) (store.EvalResult, error) {
	var (
		res store.EvalResult
		err error
	)
	if s.atomicity == AtomicityPipeline {
		res, err = s.evaluateWithPipeline(ctx, key, req)
	} else {
		res, err = s.evaluateWithScript(ctx, key, req)
	}
	if err != nil {
		return store.EvalResult{}, store.NewUnavailableError(BackendName, "evaluate", key, err)
	}
	return res, nil
}

func (s *Store) evaluateWithScript(ctx context.Context, key string, req store.EvalRequest) (store.EvalResult, error) {
	vals, err := evaluateScript.Run(ctx, s.client, []string{key, blockKey(key)},
		req.NowMs, req.WindowMs, req.BlockMs, req.Limit, req.MaxEntries, req.Member,
	).Int64Slice()
	if err != nil {
		return store.EvalResult{}, err
	}
	if len(vals) != 4 {
		return store.EvalResult{}, fmt.Errorf("unexpected script result length %d", len(vals))
	}
	return store.EvalResult{
		Admitted:       vals[0] == 1,
		Count:          int(vals[1]),
		OldestMs:       vals[2],
		BlockedUntilMs: vals[3],
	}, nil
}

// evaluateWithPipeline is the reduced-consistency variant for deployments without scripting.
// The first transaction trims, counts and reads the block marker, the second one records or blocks.
func (s *Store) evaluateWithPipeline(ctx context.Context, key string, req store.EvalRequest) (store.EvalResult, error) {
	windowStart := req.NowMs - req.WindowMs
	minScore := strconv.FormatInt(windowStart, 10)

	var (
		blockCmd  *redis.StringCmd
		countCmd  *redis.IntCmd
		oldestCmd *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		blockCmd = pipe.Get(ctx, blockKey(key))
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+minScore)
		countCmd = pipe.ZCard(ctx, key)
		oldestCmd = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.EvalResult{}, err
	}

	var res store.EvalResult
	if blockedUntil, blockErr := blockCmd.Int64(); blockErr == nil && blockedUntil > req.NowMs {
		res.BlockedUntilMs = blockedUntil
	} else if blockErr != nil && !errors.Is(blockErr, redis.Nil) {
		return store.EvalResult{}, blockErr
	}
	res.Count = int(countCmd.Val())
	if oldest := oldestCmd.Val(); len(oldest) != 0 {
		res.OldestMs = int64(oldest[0].Score)
	}
	if res.BlockedUntilMs != 0 {
		return res, nil
	}

	ttl := time.Duration(req.WindowMs+req.BlockMs) * time.Millisecond
	switch {
	case res.Count < req.Limit:
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(req.NowMs), Member: req.Member})
			if req.MaxEntries > 0 {
				pipe.ZRemRangeByRank(ctx, key, 0, int64(-req.MaxEntries-1))
			}
			pipe.PExpire(ctx, key, ttl)
			return nil
		})
		if err != nil {
			return store.EvalResult{}, err
		}
		res.Admitted = true
		res.Count++
		if req.MaxEntries > 0 && res.Count > req.MaxEntries {
			res.Count = req.MaxEntries
		}
		if res.OldestMs == 0 {
			res.OldestMs = req.NowMs
		}
	case req.BlockMs > 0:
		res.BlockedUntilMs = req.NowMs + req.BlockMs
		if err = s.client.Set(ctx, blockKey(key), res.BlockedUntilMs, time.Duration(req.BlockMs)*time.Millisecond).Err(); err != nil {
			return store.EvalResult{}, err
		}
	}
	return res, nil
}

// TrimExpired implements store.Adapter.
// Redis deletes the sorted set itself when its last member is removed.
func (s *Store) TrimExpired(ctx context.Context, key string, beforeMs int64) (int, error) {
	var countCmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(beforeMs, 10))
		countCmd = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, store.NewUnavailableError(BackendName, "trim", key, err)
	}
	return int(countCmd.Val()), nil
}

// TrimExpiredBatch implements store.BatchTrimmer.
// All keys are trimmed in a single pipelined round trip.
// Server errors (e.g. WRONGTYPE) are reported per key. If the round trip itself fails,
// go-redis may leave the commands without errors, so it's reported as the batch error.
func (s *Store) TrimExpiredBatch(ctx context.Context, keys []string, beforeMs int64) ([]store.TrimResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	maxScore := "(" + strconv.FormatInt(beforeMs, 10)
	remCmds := make([]*redis.IntCmd, len(keys))
	countCmds := make([]*redis.IntCmd, len(keys))
	_, execErr := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			remCmds[i] = pipe.ZRemRangeByScore(ctx, key, "-inf", maxScore)
			countCmds[i] = pipe.ZCard(ctx, key)
		}
		return nil
	})

	results := make([]store.TrimResult, len(keys))
	failed := 0
	for i := range keys {
		err := remCmds[i].Err()
		if err == nil {
			err = countCmds[i].Err()
		}
		if err != nil {
			results[i].Err = store.NewUnavailableError(BackendName, "trim", keys[i], err)
			failed++
			continue
		}
		results[i].Remaining = int(countCmds[i].Val())
	}
	if execErr != nil && (failed == 0 || failed == len(keys) || !isServerErr(execErr)) {
		return nil, store.NewUnavailableError(BackendName, "trim batch", "", execErr)
	}
	return results, nil
}

func isServerErr(err error) bool {
	var redisErr redis.Error
	return errors.As(err, &redisErr) && err != redis.Nil
}

// DeleteKey implements store.Adapter.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key, blockKey(key)).Err(); err != nil {
		return store.NewUnavailableError(BackendName, "delete", key, err)
	}
	return nil
}

// ScanKeys implements store.KeyScanner using SCAN with MATCH and COUNT.
// With a cluster client only the keys of a single node are visited.
func (s *Store) ScanKeys(ctx context.Context, match string, cursor uint64, count int) ([]string, uint64, error) {
	keys, next, err := s.client.Scan(ctx, cursor, match, int64(count)).Result()
	if err != nil {
		return nil, 0, store.NewUnavailableError(BackendName, "scan", "", err)
	}
	return keys, next, nil
}

// Close implements store.Adapter.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return store.NewUnavailableError(BackendName, "close", "", err)
	}
	return nil
}
