/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/log/logtest"
	"github.com/acronis/go-ratelimit/store"
	"github.com/acronis/go-ratelimit/store/memstore"
	"github.com/acronis/go-ratelimit/store/redisstore"
	"github.com/acronis/go-ratelimit/testutil"
)

const testStartMs = 1_700_000_000_000

type backend struct {
	name       string
	newAdapter func(t *testing.T) store.Adapter
}

var backends = []backend{
	{
		name: "memory",
		newAdapter: func(t *testing.T) store.Adapter {
			return memstore.New()
		},
	},
	{
		name: "redis",
		newAdapter: func(t *testing.T) store.Adapter {
			_, client := testutil.NewMiniredis(t)
			return redisstore.NewWithClient(client, redisstore.Opts{})
		},
	},
}

var _ store.Adapter = (*unavailableAdapter)(nil)

// unavailableAdapter fails every operation as an unreachable store does.
type unavailableAdapter struct {
	calls atomic.Int32
}

func (a *unavailableAdapter) AtomicEvaluate(_ context.Context, key string, _ store.EvalRequest) (store.EvalResult, error) {
	a.calls.Inc()
	return store.EvalResult{}, store.NewUnavailableError("test", "evaluate", key, context.DeadlineExceeded)
}

func (a *unavailableAdapter) TrimExpired(_ context.Context, key string, _ int64) (int, error) {
	return 0, store.NewUnavailableError("test", "trim", key, context.DeadlineExceeded)
}

func (a *unavailableAdapter) DeleteKey(_ context.Context, key string) error {
	return store.NewUnavailableError("test", "delete", key, context.DeadlineExceeded)
}

func (a *unavailableAdapter) Close() error {
	return nil
}

// hangingAdapter blocks until the context is done.
type hangingAdapter struct {
	unavailableAdapter
}

func (a *hangingAdapter) AtomicEvaluate(ctx context.Context, _ string, _ store.EvalRequest) (store.EvalResult, error) {
	<-ctx.Done()
	return store.EvalResult{}, ctx.Err()
}

// panickingLogger panics on every warning.
type panickingLogger struct {
	log.FieldLogger
}

func (panickingLogger) Warn(string, ...log.Field) {
	panic("logger is broken")
}

func newTestConfig(throttlers map[string]ThrottlerConfig) *Config {
	cfg := NewDefaultConfig()
	cfg.Throttlers = throttlers
	// Miniredis may be slow under many concurrent callers.
	cfg.EvaluationTimeout = 5 * time.Second
	return cfg
}

func newTestLimiter(t *testing.T, cfg *Config, adapter store.Adapter, clock Clock, opts ...func(*Opts)) *Limiter {
	t.Helper()
	o := Opts{Clock: clock, Logger: logtest.NewLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := New(cfg, adapter, o)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close())
	})
	return l
}

func requireLogFieldString(t *testing.T, entry logtest.RecordedEntry, key, want string) {
	t.Helper()
	val, ok := entry.StringField(key)
	require.True(t, ok, "string field %q not found", key)
	require.Equal(t, want, val)
}

func requireLogFieldInt(t *testing.T, entry logtest.RecordedEntry, key string, want int) {
	t.Helper()
	val, ok := entry.IntField(key)
	require.True(t, ok, "int field %q not found", key)
	require.EqualValues(t, want, val)
}

func requireLogFieldBool(t *testing.T, entry logtest.RecordedEntry, key string, want bool) {
	t.Helper()
	val, ok := entry.BoolField(key)
	require.True(t, ok, "bool field %q not found", key)
	require.Equal(t, want, val)
}
