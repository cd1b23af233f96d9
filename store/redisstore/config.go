/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratelimit/config"
)

const cfgDefaultKeyPrefix = "store.redis"

const (
	cfgKeyHost                  = "host"
	cfgKeyPort                  = "port"
	cfgKeyPassword              = "password"
	cfgKeyDB                    = "db"
	cfgKeyTLSEnabled            = "tls.enabled"
	cfgKeyTLSInsecureSkipVerify = "tls.insecureSkipVerify"
	cfgKeyTLSCAFile             = "tls.caFile"
	cfgKeyDialTimeoutMs         = "dialTimeoutMs"
	cfgKeyReadTimeoutMs         = "readTimeoutMs"
	cfgKeyWriteTimeoutMs        = "writeTimeoutMs"
	cfgKeyPoolSize              = "poolSize"
	cfgKeyAtomicity             = "atomicity"
	cfgKeyConnectRetries        = "connectRetries"
)

// Default values.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 6379
	DefaultDialTimeout    = 5 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultWriteTimeout   = 3 * time.Second
	DefaultConnectRetries = 3
)

// Atomicity defines how the evaluate-and-record operation is executed on the Redis side.
type Atomicity string

const (
	// AtomicityScript runs the whole operation as one server-side Lua script.
	AtomicityScript Atomicity = "script"

	// AtomicityPipeline runs the operation as two round trips (trim and count, then record).
	// Concurrent callers on the same key may both be admitted between the round trips,
	// so the limit may be exceeded. Use it only with Redis deployments where scripts are disabled.
	AtomicityPipeline Atomicity = "pipeline"
)

// TLSConfig contains TLS settings of the Redis connection.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify" yaml:"insecureSkipVerify" json:"insecureSkipVerify"`
	CAFile             string `mapstructure:"caFile" yaml:"caFile" json:"caFile"`
}

// Config contains connection parameters of the Redis store.
type Config struct {
	Host           string        `mapstructure:"host" yaml:"host" json:"host"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port"`
	Password       string        `mapstructure:"password" yaml:"password" json:"password"`
	DB             int           `mapstructure:"db" yaml:"db" json:"db"`
	TLS            TLSConfig     `mapstructure:"tls" yaml:"tls" json:"tls"`
	DialTimeout    time.Duration `mapstructure:"dialTimeoutMs" yaml:"dialTimeoutMs" json:"dialTimeoutMs"`
	ReadTimeout    time.Duration `mapstructure:"readTimeoutMs" yaml:"readTimeoutMs" json:"readTimeoutMs"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeoutMs" yaml:"writeTimeoutMs" json:"writeTimeoutMs"`
	PoolSize       int           `mapstructure:"poolSize" yaml:"poolSize" json:"poolSize"`
	Atomicity      Atomicity     `mapstructure:"atomicity" yaml:"atomicity" json:"atomicity"`
	ConnectRetries int           `mapstructure:"connectRetries" yaml:"connectRetries" json:"connectRetries"`

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
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Host = DefaultHost
	cfg.Port = DefaultPort
	cfg.DialTimeout = DefaultDialTimeout
	cfg.ReadTimeout = DefaultReadTimeout
	cfg.WriteTimeout = DefaultWriteTimeout
	cfg.Atomicity = AtomicityScript
	cfg.ConnectRetries = DefaultConnectRetries
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyHost, DefaultHost)
	dp.SetDefault(cfgKeyPort, DefaultPort)
	dp.SetDefault(cfgKeyDialTimeoutMs, DefaultDialTimeout.Milliseconds())
	dp.SetDefault(cfgKeyReadTimeoutMs, DefaultReadTimeout.Milliseconds())
	dp.SetDefault(cfgKeyWriteTimeoutMs, DefaultWriteTimeout.Milliseconds())
	dp.SetDefault(cfgKeyAtomicity, string(AtomicityScript))
	dp.SetDefault(cfgKeyConnectRetries, DefaultConnectRetries)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Host, err = dp.GetString(cfgKeyHost); err != nil {
		return err
	}
	if c.Host == "" {
		return dp.WrapKeyErr(cfgKeyHost, fmt.Errorf("cannot be empty"))
	}
	if c.Port, err = dp.GetIntInRange(cfgKeyPort, 1, 65535); err != nil {
		return err
	}
	if c.Password, err = dp.GetString(cfgKeyPassword); err != nil {
		return err
	}
	if c.DB, err = dp.GetIntInRange(cfgKeyDB, 0, 15); err != nil {
		return err
	}
	if err = c.setTLS(dp); err != nil {
		return err
	}
	if c.DialTimeout, err = dp.GetMilliseconds(cfgKeyDialTimeoutMs); err != nil {
		return err
	}
	if c.ReadTimeout, err = dp.GetMilliseconds(cfgKeyReadTimeoutMs); err != nil {
		return err
	}
	if c.WriteTimeout, err = dp.GetMilliseconds(cfgKeyWriteTimeoutMs); err != nil {
		return err
	}
	if c.PoolSize, err = dp.GetInt(cfgKeyPoolSize); err != nil {
		return err
	}
	if c.PoolSize < 0 {
		return dp.WrapKeyErr(cfgKeyPoolSize, fmt.Errorf("should be >= 0, got %d", c.PoolSize))
	}
	var atomicityStr string
	if atomicityStr, err = dp.GetStringFromSet(
		cfgKeyAtomicity, []string{string(AtomicityScript), string(AtomicityPipeline)}, true,
	); err != nil {
		return err
	}
	c.Atomicity = Atomicity(strings.ToLower(atomicityStr))
	if c.ConnectRetries, err = dp.GetIntInRange(cfgKeyConnectRetries, 0, 100); err != nil {
		return err
	}
	return nil
}

func (c *Config) setTLS(dp config.DataProvider) error {
	var err error
	if c.TLS.Enabled, err = dp.GetBool(cfgKeyTLSEnabled); err != nil {
		return err
	}
	if c.TLS.InsecureSkipVerify, err = dp.GetBool(cfgKeyTLSInsecureSkipVerify); err != nil {
		return err
	}
	if c.TLS.CAFile, err = dp.GetString(cfgKeyTLSCAFile); err != nil {
		return err
	}
	if c.TLS.CAFile != "" && !c.TLS.Enabled {
		return dp.WrapKeyErr(cfgKeyTLSCAFile, fmt.Errorf("cannot be used when TLS is disabled"))
	}
	return nil
}

// Addr returns the host:port address of the Redis server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RedisOptions builds go-redis client options from the Config.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
	}
	// A context deadline of the caller (the evaluation timeout) must be able to interrupt a command.
	opts.ContextTimeoutEnabled = true
	if !c.TLS.Enabled {
		return opts, nil
	}
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.Host,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify, //nolint:gosec // explicitly requested by configuration
	}
	if c.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in CA file %q", c.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}
