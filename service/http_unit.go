/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/acronis/go-ratelimit/log"
)

// DefaultHTTPShutdownTimeout is used when HTTPUnitOpts.ShutdownTimeout is zero.
const DefaultHTTPShutdownTimeout = 5 * time.Second

// HTTPUnit presents http.Server as Unit.
type HTTPUnit struct {
	server            *http.Server
	logger            log.FieldLogger
	shutdownTimeout   time.Duration
	metricsRegisterer MetricsRegisterer

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

var _ Unit = (*HTTPUnit)(nil)
var _ MetricsRegisterer = (*HTTPUnit)(nil)

// HTTPUnitOpts contains optional parameters for constructing HTTPUnit.
type HTTPUnitOpts struct {
	// Listener is used instead of listening on the server address (e.g. ":0" listeners in tests).
	Listener          net.Listener
	ShutdownTimeout   time.Duration
	MetricsRegisterer MetricsRegisterer
}

// NewHTTPUnit creates a new HTTPUnit serving handler on addr.
func NewHTTPUnit(addr string, handler http.Handler, logger log.FieldLogger, opts HTTPUnitOpts) *HTTPUnit {
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultHTTPShutdownTimeout
	}
	return &HTTPUnit{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:            logger.With(log.String("address", addr)),
		shutdownTimeout:   opts.ShutdownTimeout,
		metricsRegisterer: opts.MetricsRegisterer,
		listener:          opts.Listener,
		ready:             make(chan struct{}),
	}
}

// Start serves HTTP requests and blocks until the server is closed.
func (u *HTTPUnit) Start(fatalError chan<- error) {
	u.mu.Lock()
	if u.listener == nil {
		ln, err := net.Listen("tcp", u.server.Addr)
		if err != nil {
			u.mu.Unlock()
			u.logger.Error("HTTP server listen error", log.Error(err))
			fatalError <- err
			return
		}
		u.listener = ln
	}
	ln := u.listener
	u.mu.Unlock()
	close(u.ready)

	u.logger.Info("starting HTTP server...", log.String("listen_address", ln.Addr().String()))
	if err := u.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		u.logger.Error("HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	u.logger.Info("HTTP server closed")
}

// Addr waits until the unit is listening and returns the listener address.
func (u *HTTPUnit) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-u.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.listener.Addr(), nil
}

// Stop shuts the server down. A graceful stop waits for in-flight requests up to the shutdown timeout.
func (u *HTTPUnit) Stop(gracefully bool) error {
	if !gracefully {
		return u.server.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), u.shutdownTimeout)
	defer cancel()
	u.logger.Info("shutting down HTTP server...", log.DurationMs("timeout_ms", u.shutdownTimeout))
	if err := u.server.Shutdown(ctx); err != nil {
		u.logger.Error("HTTP server shutting down error", log.Error(err))
		return err
	}
	return nil
}

// MustRegisterMetrics registers metrics of the served handler.
func (u *HTTPUnit) MustRegisterMetrics() {
	if u.metricsRegisterer != nil {
		u.metricsRegisterer.MustRegisterMetrics()
	}
}

// UnregisterMetrics unregisters metrics of the served handler.
func (u *HTTPUnit) UnregisterMetrics() {
	if u.metricsRegisterer != nil {
		u.metricsRegisterer.UnregisterMetrics()
	}
}
