/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"net"

	"github.com/spf13/cobra"

	"github.com/acronis/go-ratelimit/eviction"
	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/profserver"
	"github.com/acronis/go-ratelimit/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rate limited HTTP front and the eviction workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := loadAppConfig(cfgPath)
			if err != nil {
				return err
			}
			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()
			return runServe(cmd.Context(), cfg, logger, nil)
		},
	}
}

// runServe blocks until ctx is done or a shutdown signal is received.
// If ln is nil, the server listens on the configured address.
func runServe(ctx context.Context, cfg *appConfig, logger log.FieldLogger, ln net.Listener) error {
	limiterMetrics := limiter.NewMetricsCollector("")
	a, err := newApp(ctx, cfg, logger, limiterMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("failed to close rate limiter", log.Error(closeErr))
		}
	}()

	router, err := a.newRouter()
	if err != nil {
		return err
	}
	evictionUnits, err := a.newEvictionUnits(eviction.NewMetricsCollector(""))
	if err != nil {
		return err
	}

	httpUnit := service.NewHTTPUnit(cfg.Server.Address, router, logger, service.HTTPUnitOpts{
		Listener:          ln,
		MetricsRegisterer: limiterMetricsRegisterer{limiterMetrics},
	})
	units := append([]service.Unit{httpUnit}, evictionUnits...)
	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}
	logger.Info("starting rate limiter",
		log.String("store", cfg.Store.Type),
		log.Strings("throttlers", a.limiter.Registry().Names()),
		log.String("failure_strategy", string(a.limiter.FailureStrategy())),
	)
	return service.New(logger, service.NewCompositeUnit(units...)).StartContext(ctx)
}
