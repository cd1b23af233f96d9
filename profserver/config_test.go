/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package profserver

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-ratelimit/config"
)

type AppConfig struct {
	ProfServer *Config `mapstructure:"profServer" json:"profServer" yaml:"profServer"`
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
	}{
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
profServer:
  enabled: true
  address: "0.0.0.0:6060"
`,
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData:     `{"profServer": {"enabled": true, "address": "0.0.0.0:6060"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectedCfg := NewDefaultConfig()
			expectedCfg.Enabled = true
			expectedCfg.Address = "0.0.0.0:6060"

			// Load config using config.Loader.
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), tt.cfgDataType, cfg)
			require.NoError(t, err)
			require.Equal(t, expectedCfg, cfg)

			// Load config using yaml/json unmarshal.
			appCfg := AppConfig{ProfServer: NewDefaultConfig()}
			switch tt.cfgDataType {
			case config.DataTypeYAML:
				require.NoError(t, yaml.Unmarshal([]byte(tt.cfgData), &appCfg))
			case config.DataTypeJSON:
				require.NoError(t, json.Unmarshal([]byte(tt.cfgData), &appCfg))
			}
			require.Equal(t, expectedCfg, appCfg.ProfServer)
		})
	}
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
	require.False(t, cfg.Enabled)
}

func TestWithKeyPrefix(t *testing.T) {
	cfgData := `
debug:
  profServer:
    enabled: true
    address: "127.0.0.1:7070"
`
	expectedCfg := NewDefaultConfig(WithKeyPrefix("debug.profServer"))
	expectedCfg.Enabled = true
	expectedCfg.Address = "127.0.0.1:7070"

	cfg := NewConfig(WithKeyPrefix("debug.profServer"))
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, expectedCfg, cfg)
}

func TestConfigValidationErrors(t *testing.T) {
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(
		bytes.NewBufferString("profServer:\n  address: \"\"\n"), config.DataTypeYAML, cfg)
	require.EqualError(t, err, "profServer.address: cannot be empty")
}
