/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package eviction

import (
	"fmt"
	"time"

	"github.com/acronis/go-ratelimit/config"
)

const cfgDefaultKeyPrefix = "eviction"

const (
	cfgKeyCleanupIntervalMs     = "cleanupIntervalMs"
	cfgKeyBatchSize             = "batchSize"
	cfgKeyEnableBatchOperations = "enableBatchOperations"
	cfgKeyBatchesPerSecond      = "batchesPerSecond"
)

// Default and restriction values.
const (
	DefaultCleanupIntervalMs = 60000
	MinCleanupIntervalMs     = 100

	DefaultBatchSize = 100
	MinBatchSize     = 1
	MaxBatchSize     = 10000

	DefaultBatchesPerSecond = 10
	MaxBatchesPerSecond     = 10000
)

// Config represents a set of configuration parameters for the eviction scheduler.
type Config struct {
	// CleanupInterval is the delay between two eviction passes.
	CleanupInterval time.Duration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`

	// BatchSize bounds the number of keys scanned and trimmed in one batch.
	BatchSize int `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`

	// EnableBatchOperations makes the scheduler trim a whole batch in one round trip if the store supports it.
	EnableBatchOperations bool `mapstructure:"enableBatchOperations" yaml:"enableBatchOperations" json:"enableBatchOperations"`

	// BatchesPerSecond limits the pace of a pass so it doesn't compete with evaluations for the store. Zero means no limit.
	BatchesPerSecond int `mapstructure:"batchesPerSecond" yaml:"batchesPerSecond" json:"batchesPerSecond"`

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

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.CleanupInterval = DefaultCleanupIntervalMs * time.Millisecond
	cfg.BatchSize = DefaultBatchSize
	cfg.EnableBatchOperations = true
	cfg.BatchesPerSecond = DefaultBatchesPerSecond
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the scheduler in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyCleanupIntervalMs, DefaultCleanupIntervalMs)
	dp.SetDefault(cfgKeyBatchSize, DefaultBatchSize)
	dp.SetDefault(cfgKeyEnableBatchOperations, true)
	dp.SetDefault(cfgKeyBatchesPerSecond, DefaultBatchesPerSecond)
}

// Set sets the scheduler configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.CleanupInterval, err = dp.GetMilliseconds(cfgKeyCleanupIntervalMs); err != nil {
		return err
	}
	if c.CleanupInterval < MinCleanupIntervalMs*time.Millisecond {
		return dp.WrapKeyErr(cfgKeyCleanupIntervalMs, fmt.Errorf("should be >= %d, got %d",
			MinCleanupIntervalMs, c.CleanupInterval.Milliseconds()))
	}
	if c.BatchSize, err = dp.GetIntInRange(cfgKeyBatchSize, MinBatchSize, MaxBatchSize); err != nil {
		return err
	}
	if c.EnableBatchOperations, err = dp.GetBool(cfgKeyEnableBatchOperations); err != nil {
		return err
	}
	if c.BatchesPerSecond, err = dp.GetIntInRange(cfgKeyBatchesPerSecond, 0, MaxBatchesPerSecond); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration built without config.Loader.
func (c *Config) Validate() error {
	if c.CleanupInterval < MinCleanupIntervalMs*time.Millisecond {
		return config.WrapKeyErr(c.KeyPrefix()+"."+cfgKeyCleanupIntervalMs,
			fmt.Errorf("should be >= %d, got %d", MinCleanupIntervalMs, c.CleanupInterval.Milliseconds()))
	}
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return config.WrapKeyErr(c.KeyPrefix()+"."+cfgKeyBatchSize,
			fmt.Errorf("should be in range [%d, %d], got %d", MinBatchSize, MaxBatchSize, c.BatchSize))
	}
	if c.BatchesPerSecond < 0 || c.BatchesPerSecond > MaxBatchesPerSecond {
		return config.WrapKeyErr(c.KeyPrefix()+"."+cfgKeyBatchesPerSecond,
			fmt.Errorf("should be in range [0, %d], got %d", MaxBatchesPerSecond, c.BatchesPerSecond))
	}
	return nil
}
