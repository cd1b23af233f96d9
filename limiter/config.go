/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-ratelimit/config"
)

const cfgDefaultKeyPrefix = "limiter"

const (
	cfgKeyThrottlers          = "throttlers"
	cfgKeyLimitCount          = "limitCount"
	cfgKeyWindowDurationMs    = "windowDurationMs"
	cfgKeyBlockDurationMs     = "blockDurationMs"
	cfgKeyFailureStrategy     = "failureStrategy"
	cfgKeyFallbackAlgorithm   = "fallback.algorithm"
	cfgKeyFallbackMaxKeys     = "fallback.maxKeys"
	cfgKeyMaxWindowSize       = "maxWindowSize"
	cfgKeyStoreKeyPrefix      = "keyPrefix"
	cfgKeyMaxKeyLength        = "maxKeyLength"
	cfgKeyEvaluationTimeoutMs = "evaluationTimeoutMs"
	cfgKeyEnableDebugLogging  = "enableDebugLogging"
)

// DefaultThrottlerName is the name of the throttler defined by the top-level
// limitCount, windowDurationMs and blockDurationMs options.
const DefaultThrottlerName = "default"

// Default and restriction values.
const (
	DefaultLimitCount       = 100
	DefaultWindowDurationMs = 60000

	DefaultMaxWindowSize = 1000
	MinMaxWindowSize     = 100
	MaxMaxWindowSize     = 10000

	DefaultMaxKeyLength = 256
	MinMaxKeyLength     = 1
	MaxMaxKeyLength     = 4096

	DefaultStoreKeyPrefix      = "ratelimit:"
	DefaultEvaluationTimeoutMs = 100
)

// ThrottlerConfig represents a configuration of a single named throttler.
type ThrottlerConfig struct {
	LimitCount       int      `mapstructure:"limitCount" yaml:"limitCount" json:"limitCount"`
	WindowDurationMs int64    `mapstructure:"windowDurationMs" yaml:"windowDurationMs" json:"windowDurationMs"`
	BlockDurationMs  int64    `mapstructure:"blockDurationMs" yaml:"blockDurationMs" json:"blockDurationMs"`
	ExemptKeys       []string `mapstructure:"exemptKeys" yaml:"exemptKeys" json:"exemptKeys"`
}

// Policy returns the window policy of the throttler.
func (tc ThrottlerConfig) Policy() Policy {
	return Policy{
		Limit:         tc.LimitCount,
		Window:        time.Duration(tc.WindowDurationMs) * time.Millisecond,
		BlockDuration: time.Duration(tc.BlockDurationMs) * time.Millisecond,
	}
}

// FallbackConfig configures the in-process limiter of the local-fallback failure strategy.
type FallbackConfig struct {
	Algorithm FallbackAlgorithm `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`

	// MaxKeys bounds the number of keys tracked per throttler by the "gcra" algorithm. Zero means no bound.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
}

// Config represents a set of configuration parameters for the Limiter.
// It's immutable after the Limiter is constructed.
type Config struct {
	// Throttlers maps throttler names to their configurations.
	// Names are lowercased when the configuration is loaded with config.Loader.
	Throttlers map[string]ThrottlerConfig `mapstructure:"throttlers" yaml:"throttlers" json:"throttlers"`

	FailureStrategy FailureStrategy `mapstructure:"failureStrategy" yaml:"failureStrategy" json:"failureStrategy"`
	Fallback        FallbackConfig  `mapstructure:"fallback" yaml:"fallback" json:"fallback"`

	// MaxWindowSize is the upper bound of entries stored per key. Stored windows are truncated to it.
	MaxWindowSize int `mapstructure:"maxWindowSize" yaml:"maxWindowSize" json:"maxWindowSize"`

	// StoreKeyPrefix is prepended to every key in the shared store.
	StoreKeyPrefix string `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`

	// MaxKeyLength bounds the caller key (in bytes), not the generated store key.
	// A store key is at most len(StoreKeyPrefix) + len(throttler name) + MaxKeyLength + 3 bytes long.
	MaxKeyLength int `mapstructure:"maxKeyLength" yaml:"maxKeyLength" json:"maxKeyLength"`

	EvaluationTimeout time.Duration `mapstructure:"evaluationTimeout" yaml:"evaluationTimeout" json:"evaluationTimeout"`

	EnableDebugLogging bool `mapstructure:"enableDebugLogging" yaml:"enableDebugLogging" json:"enableDebugLogging"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values
// and the single "default" throttler.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Throttlers = map[string]ThrottlerConfig{
		DefaultThrottlerName: {LimitCount: DefaultLimitCount, WindowDurationMs: DefaultWindowDurationMs},
	}
	cfg.FailureStrategy = FailOpen
	cfg.Fallback = FallbackConfig{Algorithm: FallbackExact, MaxKeys: DefaultFallbackMaxKeys}
	cfg.MaxWindowSize = DefaultMaxWindowSize
	cfg.StoreKeyPrefix = DefaultStoreKeyPrefix
	cfg.MaxKeyLength = DefaultMaxKeyLength
	cfg.EvaluationTimeout = DefaultEvaluationTimeoutMs * time.Millisecond
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the limiter in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyLimitCount, DefaultLimitCount)
	dp.SetDefault(cfgKeyWindowDurationMs, DefaultWindowDurationMs)
	dp.SetDefault(cfgKeyBlockDurationMs, 0)
	dp.SetDefault(cfgKeyFailureStrategy, string(FailOpen))
	dp.SetDefault(cfgKeyFallbackAlgorithm, string(FallbackExact))
	dp.SetDefault(cfgKeyFallbackMaxKeys, DefaultFallbackMaxKeys)
	dp.SetDefault(cfgKeyMaxWindowSize, DefaultMaxWindowSize)
	dp.SetDefault(cfgKeyStoreKeyPrefix, DefaultStoreKeyPrefix)
	dp.SetDefault(cfgKeyMaxKeyLength, DefaultMaxKeyLength)
	dp.SetDefault(cfgKeyEvaluationTimeoutMs, DefaultEvaluationTimeoutMs)
}

// Set sets the limiter configuration values from config.DataProvider and validates them.
// Every returned error is *ConfigurationError.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.set(dp); err != nil {
		return &ConfigurationError{Err: err}
	}
	return c.Validate()
}

func (c *Config) set(dp config.DataProvider) error {
	var err error

	if err = c.setThrottlers(dp); err != nil {
		return err
	}

	var strategyStr string
	if strategyStr, err = dp.GetString(cfgKeyFailureStrategy); err != nil {
		return err
	}
	if c.FailureStrategy, err = ParseFailureStrategy(strategyStr); err != nil {
		return dp.WrapKeyErr(cfgKeyFailureStrategy, err)
	}

	var algStr string
	if algStr, err = dp.GetString(cfgKeyFallbackAlgorithm); err != nil {
		return err
	}
	if c.Fallback.Algorithm, err = ParseFallbackAlgorithm(algStr); err != nil {
		return dp.WrapKeyErr(cfgKeyFallbackAlgorithm, err)
	}
	if c.Fallback.MaxKeys, err = dp.GetInt(cfgKeyFallbackMaxKeys); err != nil {
		return err
	}

	if c.MaxWindowSize, err = dp.GetIntInRange(cfgKeyMaxWindowSize, MinMaxWindowSize, MaxMaxWindowSize); err != nil {
		return err
	}
	if c.StoreKeyPrefix, err = dp.GetString(cfgKeyStoreKeyPrefix); err != nil {
		return err
	}
	if c.MaxKeyLength, err = dp.GetIntInRange(cfgKeyMaxKeyLength, MinMaxKeyLength, MaxMaxKeyLength); err != nil {
		return err
	}
	if c.EvaluationTimeout, err = dp.GetMilliseconds(cfgKeyEvaluationTimeoutMs); err != nil {
		return err
	}
	if c.EnableDebugLogging, err = dp.GetBool(cfgKeyEnableDebugLogging); err != nil {
		return err
	}
	return nil
}

func (c *Config) setThrottlers(dp config.DataProvider) error {
	throttlers := make(map[string]ThrottlerConfig)
	if dp.IsSet(cfgKeyThrottlers) {
		if err := dp.UnmarshalKey(cfgKeyThrottlers, &throttlers, func(dc *mapstructure.DecoderConfig) {
			dc.ErrorUnused = true
			dc.DecodeHook = mapstructure.StringToSliceHookFunc(",")
		}); err != nil {
			return err
		}
	}
	if _, ok := throttlers[DefaultThrottlerName]; !ok {
		var def ThrottlerConfig
		var err error
		if def.LimitCount, err = dp.GetInt(cfgKeyLimitCount); err != nil {
			return err
		}
		var window, block time.Duration
		if window, err = dp.GetMilliseconds(cfgKeyWindowDurationMs); err != nil {
			return err
		}
		if block, err = dp.GetMilliseconds(cfgKeyBlockDurationMs); err != nil {
			return err
		}
		def.WindowDurationMs = window.Milliseconds()
		def.BlockDurationMs = block.Milliseconds()
		throttlers[DefaultThrottlerName] = def
	}
	c.Throttlers = throttlers
	return nil
}

// Validate checks the configuration. It never adjusts values.
// Every returned error is *ConfigurationError with the full configuration key.
func (c *Config) Validate() error {
	if len(c.Throttlers) == 0 {
		return c.configErr(cfgKeyThrottlers, errors.New("at least one throttler should be configured"))
	}
	if c.MaxWindowSize < MinMaxWindowSize || c.MaxWindowSize > MaxMaxWindowSize {
		return c.configErr(cfgKeyMaxWindowSize, fmt.Errorf("should be in range [%d, %d], got %d",
			MinMaxWindowSize, MaxMaxWindowSize, c.MaxWindowSize))
	}
	for _, name := range c.throttlerNames() {
		if err := c.validateThrottler(name, c.Throttlers[name]); err != nil {
			return err
		}
	}
	if _, err := ParseFailureStrategy(string(c.FailureStrategy)); err != nil {
		return c.configErr(cfgKeyFailureStrategy, err)
	}
	if _, err := ParseFallbackAlgorithm(string(c.Fallback.Algorithm)); err != nil {
		return c.configErr(cfgKeyFallbackAlgorithm, err)
	}
	if c.Fallback.MaxKeys < 0 {
		return c.configErr(cfgKeyFallbackMaxKeys, fmt.Errorf("should be >= 0, got %d", c.Fallback.MaxKeys))
	}
	// Braces would break the hash tag of store keys.
	if strings.ContainsAny(c.StoreKeyPrefix, "{}") {
		return c.configErr(cfgKeyStoreKeyPrefix, fmt.Errorf("cannot contain braces, got %q", c.StoreKeyPrefix))
	}
	if c.MaxKeyLength < MinMaxKeyLength || c.MaxKeyLength > MaxMaxKeyLength {
		return c.configErr(cfgKeyMaxKeyLength, fmt.Errorf("should be in range [%d, %d], got %d",
			MinMaxKeyLength, MaxMaxKeyLength, c.MaxKeyLength))
	}
	if c.EvaluationTimeout <= 0 {
		return c.configErr(cfgKeyEvaluationTimeoutMs, fmt.Errorf("should be > 0, got %d", c.EvaluationTimeout.Milliseconds()))
	}
	return nil
}

func (c *Config) validateThrottler(name string, tc ThrottlerConfig) error {
	key := func(k string) string {
		return cfgKeyThrottlers + "." + name + "." + k
	}
	if tc.LimitCount < 0 {
		return c.configErr(key(cfgKeyLimitCount), fmt.Errorf("should be >= 0, got %d", tc.LimitCount))
	}
	if tc.LimitCount > c.MaxWindowSize {
		return c.configErr(key(cfgKeyLimitCount), fmt.Errorf("should be <= %s (%d), got %d",
			cfgKeyMaxWindowSize, c.MaxWindowSize, tc.LimitCount))
	}
	if tc.WindowDurationMs < 1 {
		return c.configErr(key(cfgKeyWindowDurationMs), fmt.Errorf("should be >= 1, got %d", tc.WindowDurationMs))
	}
	if tc.BlockDurationMs < 0 {
		return c.configErr(key(cfgKeyBlockDurationMs), fmt.Errorf("should be >= 0, got %d", tc.BlockDurationMs))
	}
	if _, err := NewThrottler(name, tc.Policy(), tc.ExemptKeys...); err != nil {
		return c.configErr(cfgKeyThrottlers+"."+name, err)
	}
	return nil
}

func (c *Config) throttlerNames() []string {
	names := make([]string, 0, len(c.Throttlers))
	for name := range c.Throttlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) configErr(key string, err error) error {
	return &ConfigurationError{Key: c.KeyPrefix() + "." + key, Err: err}
}

// NewRegistry builds a registry of throttlers from the configuration.
func (c *Config) NewRegistry() (*Registry, error) {
	throttlers := make([]*Throttler, 0, len(c.Throttlers))
	for name, tc := range c.Throttlers {
		t, err := NewThrottler(name, tc.Policy(), tc.ExemptKeys...)
		if err != nil {
			return nil, &ConfigurationError{Key: c.KeyPrefix() + "." + cfgKeyThrottlers + "." + name, Err: err}
		}
		throttlers = append(throttlers, t)
	}
	return NewRegistry(throttlers...)
}
