/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgData     string
		expectedCfg *Config
		expectedErr string
	}{
		{
			name:        "defaults",
			cfgData:     `{}`,
			expectedCfg: NewDefaultConfig(),
		},
		{
			name: "top-level policy defines the default throttler",
			cfgData: `
limiter:
  limitCount: 5
  windowDurationMs: 1000
  blockDurationMs: 3000
  failureStrategy: Fail-Closed
  keyPrefix: "rl:"
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Throttlers[DefaultThrottlerName] = ThrottlerConfig{LimitCount: 5, WindowDurationMs: 1000, BlockDurationMs: 3000}
				cfg.FailureStrategy = FailClosed
				cfg.StoreKeyPrefix = "rl:"
				return cfg
			}(),
		},
		{
			name: "named throttlers",
			cfgData: `
limiter:
  throttlers:
    login:
      limitCount: 3
      windowDurationMs: 60000
      blockDurationMs: 300000
    api:
      limitCount: 1000
      windowDurationMs: 1000
      exemptKeys: ["10.0.*", "health-check"]
  failureStrategy: local-fallback
  fallback:
    algorithm: GCRA
    maxKeys: 500
  maxWindowSize: 5000
  maxKeyLength: 128
  evaluationTimeoutMs: 250
  enableDebugLogging: true
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Throttlers["login"] = ThrottlerConfig{LimitCount: 3, WindowDurationMs: 60000, BlockDurationMs: 300000}
				cfg.Throttlers["api"] = ThrottlerConfig{
					LimitCount: 1000, WindowDurationMs: 1000, ExemptKeys: []string{"10.0.*", "health-check"},
				}
				cfg.FailureStrategy = LocalFallback
				cfg.Fallback = FallbackConfig{Algorithm: FallbackGCRA, MaxKeys: 500}
				cfg.MaxWindowSize = 5000
				cfg.MaxKeyLength = 128
				cfg.EvaluationTimeout = 250 * time.Millisecond
				cfg.EnableDebugLogging = true
				return cfg
			}(),
		},
		{
			name: "named default throttler overrides top-level policy",
			cfgData: `
limiter:
  limitCount: 5
  throttlers:
    default:
      limitCount: 7
      windowDurationMs: 2000
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Throttlers[DefaultThrottlerName] = ThrottlerConfig{LimitCount: 7, WindowDurationMs: 2000}
				return cfg
			}(),
		},
		{
			name:        "unknown failure strategy",
			cfgData:     "limiter:\n  failureStrategy: retry\n",
			expectedErr: `invalid configuration: limiter.failureStrategy: unknown failure strategy "retry", should be one of [fail-open fail-closed local-fallback]`,
		},
		{
			name:        "unknown fallback algorithm",
			cfgData:     "limiter:\n  fallback:\n    algorithm: token-bucket\n",
			expectedErr: `invalid configuration: limiter.fallback.algorithm: unknown fallback algorithm "token-bucket", should be one of [exact gcra sliding-window]`,
		},
		{
			name:        "max window size below range",
			cfgData:     "limiter:\n  maxWindowSize: 50\n",
			expectedErr: "invalid configuration: limiter.maxWindowSize: should be in range [100, 10000], got 50",
		},
		{
			name:        "max window size above range",
			cfgData:     "limiter:\n  maxWindowSize: 10001\n",
			expectedErr: "invalid configuration: limiter.maxWindowSize: should be in range [100, 10000], got 10001",
		},
		{
			name:        "limit exceeds max window size",
			cfgData:     "limiter:\n  limitCount: 1001\n",
			expectedErr: "invalid configuration: limiter.throttlers.default.limitCount: should be <= maxWindowSize (1000), got 1001",
		},
		{
			name:        "negative limit",
			cfgData:     "limiter:\n  throttlers:\n    api:\n      limitCount: -1\n      windowDurationMs: 1000\n",
			expectedErr: "invalid configuration: limiter.throttlers.api.limitCount: should be >= 0, got -1",
		},
		{
			name:        "zero window",
			cfgData:     "limiter:\n  windowDurationMs: 0\n",
			expectedErr: "invalid configuration: limiter.throttlers.default.windowDurationMs: should be >= 1, got 0",
		},
		{
			name:        "negative block duration",
			cfgData:     "limiter:\n  blockDurationMs: -5\n",
			expectedErr: "invalid configuration: limiter.blockDurationMs: should be >= 0, got -5",
		},
		{
			name:        "max key length out of range",
			cfgData:     "limiter:\n  maxKeyLength: 0\n",
			expectedErr: "invalid configuration: limiter.maxKeyLength: should be in range [1, 4096], got 0",
		},
		{
			name:        "zero evaluation timeout",
			cfgData:     "limiter:\n  evaluationTimeoutMs: 0\n",
			expectedErr: "invalid configuration: limiter.evaluationTimeoutMs: should be > 0, got 0",
		},
		{
			name:        "braces in key prefix",
			cfgData:     "limiter:\n  keyPrefix: \"rl{x}:\"\n",
			expectedErr: `invalid configuration: limiter.keyPrefix: cannot contain braces, got "rl{x}:"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.expectedErr != "" {
				require.EqualError(t, err, tt.expectedErr)
				var cfgErr *ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedCfg, cfg)
		})
	}
}

func TestConfig_UnknownThrottlerOption(t *testing.T) {
	cfg := NewConfig()
	cfgData := "limiter:\n  throttlers:\n    api:\n      limitCount: 1\n      windowDurationMs: 1000\n      burst: 5\n"
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.ErrorContains(t, err, "limiter.throttlers")
	require.ErrorContains(t, err, "burst")
}

func TestConfig_ThrottlerNamesAreLowercased(t *testing.T) {
	cfg := NewConfig()
	cfgData := "limiter:\n  throttlers:\n    Login:\n      limitCount: 1\n      windowDurationMs: 1000\n"
	require.NoError(t, config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg))

	registry, err := cfg.NewRegistry()
	require.NoError(t, err)
	require.Equal(t, []string{"default", "login"}, registry.Names())
}

func TestConfig_EnvVars(t *testing.T) {
	t.Setenv("RLTEST_LIMITER_LIMITCOUNT", "42")
	t.Setenv("RLTEST_LIMITER_FAILURESTRATEGY", "fail-closed")
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("rltest").LoadDefaults(cfg))
	require.Equal(t, 42, cfg.Throttlers[DefaultThrottlerName].LimitCount)
	require.Equal(t, FailClosed, cfg.FailureStrategy)
}

func TestConfig_KeyPrefix(t *testing.T) {
	require.Equal(t, "limiter", NewConfig().KeyPrefix())
	require.Equal(t, "rate", NewConfig(WithKeyPrefix("rate")).KeyPrefix())

	cfg := NewDefaultConfig(WithKeyPrefix("rate"))
	cfg.MaxKeyLength = 0
	var cfgErr *ConfigurationError
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	require.Equal(t, "rate.maxKeyLength", cfgErr.Key)
}
