/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

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
		check       func(t *testing.T, cfg *Config)
		expectedErr string
	}{
		{
			name:    "defaults",
			cfgData: `{}`,
			check: func(t *testing.T, cfg *Config) {
				expected := NewDefaultConfig()
				require.Equal(t, expected, cfg)
				require.Equal(t, "localhost:6379", cfg.Addr())
			},
		},
		{
			name: "custom values",
			cfgData: `
store:
  redis:
    host: redis.internal
    port: 6380
    password: secret
    db: 2
    readTimeoutMs: 150
    poolSize: 20
    atomicity: Pipeline
    tls:
      enabled: true
      insecureSkipVerify: true
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "redis.internal:6380", cfg.Addr())
				require.Equal(t, "secret", cfg.Password)
				require.Equal(t, 2, cfg.DB)
				require.Equal(t, 150*time.Millisecond, cfg.ReadTimeout)
				require.Equal(t, 20, cfg.PoolSize)
				require.Equal(t, AtomicityPipeline, cfg.Atomicity)

				opts, err := cfg.RedisOptions()
				require.NoError(t, err)
				require.NotNil(t, opts.TLSConfig)
				require.Equal(t, "redis.internal", opts.TLSConfig.ServerName)
				require.True(t, opts.TLSConfig.InsecureSkipVerify)
				require.True(t, opts.ContextTimeoutEnabled)
			},
		},
		{
			name:        "invalid port",
			cfgData:     "store:\n  redis:\n    port: 70000\n",
			expectedErr: "store.redis.port: should be in range [1, 65535], got 70000",
		},
		{
			name:        "unknown atomicity",
			cfgData:     "store:\n  redis:\n    atomicity: multi\n",
			expectedErr: `store.redis.atomicity: unknown value "multi", should be one of [script pipeline]`,
		},
		{
			name:        "CA file without TLS",
			cfgData:     "store:\n  redis:\n    tls:\n      caFile: /etc/ca.pem\n",
			expectedErr: "store.redis.tls.caFile: cannot be used when TLS is disabled",
		},
		{
			name:        "empty host",
			cfgData:     "store:\n  redis:\n    host: \"\"\n",
			expectedErr: "store.redis.host: cannot be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.expectedErr != "" {
				require.EqualError(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
