/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/eviction"
	"github.com/acronis/go-ratelimit/log/logtest"
	"github.com/acronis/go-ratelimit/service"
)

func runService(start func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- start()
	}()
	return done
}

func waitServiceResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		require.Fail(t, "waiting service stop is timed out")
		return nil
	}
}

func TestService_Start(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	mc := eviction.NewMetricsCollector("service_test_start")
	scheduler, l := newTestScheduler(t, logRecorder, mc)
	httpUnit := newListeningHTTPUnit(t, l, logRecorder)
	svc := service.New(logRecorder, service.NewCompositeUnit(httpUnit, scheduler.NewWorkerUnit("eviction")))

	done := runService(svc.Start)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := httpUnit.Addr(ctx)
	require.NoError(t, err)

	svc.Signals <- os.Interrupt // Sending SIGINT signal to the service.

	require.NoError(t, waitServiceResult(t, done))
	entry, found := logRecorder.FindEntry("service got signal")
	require.True(t, found)
	sig, _ := entry.StringField("signal")
	require.Equal(t, os.Interrupt.String(), sig)
	_, found = logRecorder.FindEntry("shutting down HTTP server...")
	require.True(t, found)
	// Metrics are unregistered after the stop.
	require.False(t, prometheus.Unregister(mc.TrimmedKeys))
}

func TestService_StartContext(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	scheduler, l := newTestScheduler(t, logRecorder, nil)
	httpUnit := newListeningHTTPUnit(t, l, logRecorder)
	svc := service.New(logRecorder, service.NewCompositeUnit(httpUnit, scheduler.NewWorkerUnit("eviction")))

	ctx, ctxCancel := context.WithCancel(context.Background())
	done := runService(func() error { return svc.StartContext(ctx) })
	addrCtx, addrCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer addrCancel()
	_, err := httpUnit.Addr(addrCtx)
	require.NoError(t, err)

	ctxCancel()

	require.NoError(t, waitServiceResult(t, done))
	_, found := logRecorder.FindEntry("context is canceled, service will be stopped")
	require.True(t, found)
	_, found = logRecorder.FindEntry("HTTP server closed")
	require.True(t, found)
}

func TestService_FatalError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	logRecorder := logtest.NewRecorder()
	scheduler, l := newTestScheduler(t, logRecorder, nil)
	httpUnit := service.NewHTTPUnit(busy.Addr().String(), newLimitingHandler(l), logRecorder, service.HTTPUnitOpts{})
	svc := service.NewWithOpts(logRecorder,
		service.NewCompositeUnit(httpUnit, scheduler.NewWorkerUnit("eviction")), service.Opts{})

	err = waitServiceResult(t, runService(svc.Start))
	var opErr *net.OpError
	require.ErrorAs(t, err, &opErr)
	_, found := logRecorder.FindEntry("service fatal error")
	require.True(t, found)
}
