/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWorkerUnit_Start_Stop(t *testing.T) {
	t.Run("stop gracefully waits for worker", func(t *testing.T) {
		var finished atomic.Bool
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Millisecond * 50)
			finished.Store(true)
			return nil
		}))
		fatalErr := make(chan error, 1)
		go unit.Start(fatalErr)

		time.Sleep(time.Millisecond * 20)
		require.NoError(t, unit.Stop(true))
		require.True(t, finished.Load())
		require.Len(t, fatalErr, 0)
	})

	t.Run("stop gracefully with timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		unit := NewWorkerUnitWithOpts(WorkerFunc(func(ctx context.Context) error {
			<-release
			return nil
		}), WorkerUnitOpts{GracefulStopTimeout: time.Millisecond * 100})
		go unit.Start(make(chan error, 1))

		require.ErrorIs(t, unit.Stop(true), ErrWorkerUnitStopTimeoutExceeded)
	})

	t.Run("worker error is fatal", func(t *testing.T) {
		workerErr := errors.New("scan failed")
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			return workerErr
		}))
		fatalErr := make(chan error, 1)
		unit.Start(fatalErr)
		require.ErrorIs(t, <-fatalErr, workerErr)
		require.NoError(t, unit.Stop(true))
	})
}
