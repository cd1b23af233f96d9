/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-ratelimit/eviction"
	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/middleware"
	"github.com/acronis/go-ratelimit/service"
	"github.com/acronis/go-ratelimit/store"
	"github.com/acronis/go-ratelimit/store/memstore"
	"github.com/acronis/go-ratelimit/store/redisstore"
)

const errDomain = "RateLimitCtl"

// Error codes of the HTTP front.
const (
	errCodeNotFound         = "notFound"
	errCodeMethodNotAllowed = "methodNotAllowed"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *appConfig
	logger  log.FieldLogger
	adapter store.Adapter
	limiter *limiter.Limiter
}

func newStoreAdapter(ctx context.Context, cfg *appConfig, logger log.FieldLogger) (store.Adapter, error) {
	if cfg.Store.Type == storeTypeMemory {
		logger.Warn("in-memory store is used, rate limits are not shared between instances")
		return memstore.New(), nil
	}
	s, err := redisstore.New(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newApp(ctx context.Context, cfg *appConfig, logger log.FieldLogger, metrics *limiter.MetricsCollector) (*app, error) {
	adapter, err := newStoreAdapter(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create store adapter: %w", err)
	}
	l, err := limiter.New(cfg.Limiter, adapter, limiter.Opts{Logger: logger, Metrics: metrics})
	if err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("create limiter: %w", err)
	}
	return &app{cfg: cfg, logger: logger, adapter: adapter, limiter: l}, nil
}

func (a *app) Close() error {
	return errors.Join(a.limiter.Close(), a.adapter.Close())
}

// newEvictionUnits returns worker units trimming the shared store and,
// if the exact local fallback is used, the in-process store of the fallback.
func (a *app) newEvictionUnits(metrics *eviction.MetricsCollector) ([]service.Unit, error) {
	s, err := eviction.NewScheduler(a.adapter, a.limiter.Registry(), a.limiter.StoreKeyPrefix(), a.cfg.Eviction,
		eviction.SchedulerOpts{Logger: a.logger.With(log.String("store", "shared")), Metrics: metrics})
	if err != nil {
		return nil, fmt.Errorf("create eviction scheduler: %w", err)
	}
	units := []service.Unit{s.NewWorkerUnit("eviction")}

	if localStore := a.limiter.LocalStore(); localStore != nil {
		localScheduler, err := eviction.NewScheduler(localStore, a.limiter.Registry(), a.limiter.StoreKeyPrefix(),
			a.cfg.Eviction, eviction.SchedulerOpts{Logger: a.logger.With(log.String("store", "local-fallback"))})
		if err != nil {
			return nil, fmt.Errorf("create eviction scheduler for local fallback: %w", err)
		}
		units = append(units, localScheduler.NewWorkerUnit("local-fallback-eviction"))
	}
	return units, nil
}

func (a *app) newRouter() (chi.Router, error) {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer)

	router.Method(http.MethodGet, a.cfg.Server.MetricsPath, promhttp.Handler())
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		middleware.RespondCodeAndJSON(rw, http.StatusOK, map[string]string{"status": "ok"}, a.logger)
	})

	var getKey middleware.GetKeyFunc = middleware.KeyByRemoteAddr
	if a.cfg.Server.KeyHeader != "" {
		getKey = middleware.KeyByHeader(a.cfg.Server.KeyHeader)
	}
	mwOpts := middleware.Opts{GetKey: getKey, ErrDomain: errDomain, Logger: a.logger}

	// Each route of /api has its own window.
	apiOpts := mwOpts
	apiOpts.GetKey = middleware.KeyByRoutePattern(getKey)
	apiMw, err := middleware.RateLimit(a.limiter, a.cfg.Server.Throttler, apiOpts)
	if err != nil {
		return nil, fmt.Errorf("server.throttler: %w", err)
	}
	router.Route("/api", func(r chi.Router) {
		r = r.With(apiMw)
		r.Get("/items", a.admittedHandler(a.cfg.Server.Throttler))
		r.Get("/items/{id}", a.admittedHandler(a.cfg.Server.Throttler))
	})

	for _, name := range a.limiter.Registry().Names() {
		mw, err := middleware.RateLimit(a.limiter, name, mwOpts)
		if err != nil {
			return nil, err
		}
		router.With(mw).Get("/throttlers/"+name, a.admittedHandler(name))
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		middleware.RespondError(rw, http.StatusNotFound,
			middleware.NewError(errDomain, errCodeNotFound, "Not found."), a.logger)
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		middleware.RespondError(rw, http.StatusMethodNotAllowed,
			middleware.NewError(errDomain, errCodeMethodNotAllowed, "Method not allowed."), a.logger)
	})
	return router, nil
}

func (a *app) admittedHandler(throttler string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		respData := map[string]string{
			"throttler":  throttler,
			"route":      chi.RouteContext(r.Context()).RoutePattern(),
			"request_id": chimiddleware.GetReqID(r.Context()),
		}
		middleware.RespondCodeAndJSON(rw, http.StatusOK, respData, a.logger)
	}
}

// limiterMetricsRegisterer adapts limiter.MetricsCollector to service.MetricsRegisterer.
type limiterMetricsRegisterer struct {
	*limiter.MetricsCollector
}

func (r limiterMetricsRegisterer) MustRegisterMetrics() {
	r.MustRegister()
}

func (r limiterMetricsRegisterer) UnregisterMetrics() {
	r.Unregister()
}
