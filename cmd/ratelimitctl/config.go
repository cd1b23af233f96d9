/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"strings"

	"github.com/acronis/go-ratelimit/config"
	"github.com/acronis/go-ratelimit/eviction"
	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/profserver"
	"github.com/acronis/go-ratelimit/store/redisstore"
)

const envVarsPrefix = "ratelimit"

// Store backends.
const (
	storeTypeRedis  = "redis"
	storeTypeMemory = "memory"
)

const (
	cfgKeyStoreType         = "type"
	cfgKeyServerAddress     = "address"
	cfgKeyServerThrottler   = "throttler"
	cfgKeyServerKeyHeader   = "keyHeader"
	cfgKeyServerMetricsPath = "metricsPath"
)

const (
	defaultServerAddress     = ":8080"
	defaultServerMetricsPath = "/metrics"
)

// storeConfig selects the backend of the shared store.
type storeConfig struct {
	Type string
}

var _ config.Config = (*storeConfig)(nil)

func (c *storeConfig) KeyPrefix() string {
	return "store"
}

func (c *storeConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyStoreType, storeTypeRedis)
}

func (c *storeConfig) Set(dp config.DataProvider) error {
	typ, err := dp.GetStringFromSet(cfgKeyStoreType, []string{storeTypeRedis, storeTypeMemory}, true)
	if err != nil {
		return err
	}
	c.Type = strings.ToLower(typ)
	return nil
}

// serverConfig configures the HTTP front of the serve command.
type serverConfig struct {
	Address string

	// Throttler guards the /api routes. Every throttler is also available under /throttlers/{name}.
	Throttler string

	// KeyHeader is the request header with the rate limit key. The client address is used when it's empty.
	KeyHeader string

	MetricsPath string
}

var _ config.Config = (*serverConfig)(nil)

func (c *serverConfig) KeyPrefix() string {
	return "server"
}

func (c *serverConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerThrottler, limiter.DefaultThrottlerName)
	dp.SetDefault(cfgKeyServerMetricsPath, defaultServerMetricsPath)
}

func (c *serverConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Throttler, err = dp.GetString(cfgKeyServerThrottler); err != nil {
		return err
	}
	c.Throttler = strings.ToLower(c.Throttler)
	if c.KeyHeader, err = dp.GetString(cfgKeyServerKeyHeader); err != nil {
		return err
	}
	if c.MetricsPath, err = dp.GetString(cfgKeyServerMetricsPath); err != nil {
		return err
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return dp.WrapKeyErr(cfgKeyServerMetricsPath, fmt.Errorf("should start with \"/\", got %q", c.MetricsPath))
	}
	return nil
}

// appConfig is the whole configuration of the process.
type appConfig struct {
	Log        *log.Config
	Store      *storeConfig
	Redis      *redisstore.Config
	Limiter    *limiter.Config
	Eviction   *eviction.Config
	Server     *serverConfig
	ProfServer *profserver.Config
}

func newAppConfig() *appConfig {
	return &appConfig{
		Log:        log.NewConfig(),
		Store:      &storeConfig{},
		Redis:      redisstore.NewConfig(),
		Limiter:    limiter.NewConfig(),
		Eviction:   eviction.NewConfig(),
		Server:     &serverConfig{},
		ProfServer: profserver.NewConfig(),
	}
}

// loadAppConfig loads the configuration from the file (if path is not empty) and environment variables
// prefixed with RATELIMIT_ (e.g. RATELIMIT_STORE_REDIS_HOST).
func loadAppConfig(path string) (*appConfig, error) {
	cfg := newAppConfig()
	loader := config.NewDefaultLoader(envVarsPrefix)
	var err error
	if path == "" {
		err = loader.LoadDefaults(cfg.Log, cfg.Store, cfg.Redis, cfg.Limiter, cfg.Eviction, cfg.Server, cfg.ProfServer)
	} else {
		var dataType config.DataType
		if dataType, err = config.DataTypeFromPath(path); err != nil {
			return nil, err
		}
		err = loader.LoadFromFile(path, dataType,
			cfg.Log, cfg.Store, cfg.Redis, cfg.Limiter, cfg.Eviction, cfg.Server, cfg.ProfServer)
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}
