/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides the HTTP server with pprof handlers for profiling the rate limiter process.
package profserver

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/service"
)

// New creates a service unit serving pprof handlers under /debug (e.g. /debug/pprof/heap).
func New(cfg *Config, logger log.FieldLogger) *service.HTTPUnit {
	return NewWithOpts(cfg, logger, service.HTTPUnitOpts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(cfg *Config, logger log.FieldLogger, opts service.HTTPUnitOpts) *service.HTTPUnit {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Mount("/debug", chimiddleware.Profiler())
	return service.NewHTTPUnit(cfg.Address, router, logger.With(log.String("server", "profiling")), opts)
}
