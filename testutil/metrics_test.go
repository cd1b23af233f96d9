/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// failureRecorder is a require.TestingT that remembers failures instead of stopping the test.
type failureRecorder struct {
	errors  []string
	stopped bool
}

func (r *failureRecorder) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *failureRecorder) FailNow() {
	r.stopped = true
}

func TestCounterValue(t *testing.T) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "decisions_total"}, []string{"result"})
	decisions.WithLabelValues("allowed").Add(42)

	tests := []struct {
		name     string
		counter  prometheus.Counter
		want     int
		wantFail bool
	}{
		{name: "wrong value", counter: decisions.WithLabelValues("allowed"), want: 41, wantFail: true},
		{name: "matching value", counter: decisions.WithLabelValues("allowed"), want: 42},
		{name: "untouched label", counter: decisions.WithLabelValues("denied"), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &failureRecorder{}
			require.Equal(t, !tt.wantFail, AssertCounterValue(r, tt.counter, tt.want))
			require.Equal(t, tt.wantFail, len(r.errors) != 0)
			require.False(t, r.stopped)

			r = &failureRecorder{}
			RequireCounterValue(r, tt.counter, tt.want)
			require.Equal(t, tt.wantFail, r.stopped)
		})
	}
}

func TestSamplesCountInHistogram(t *testing.T) {
	newDurations := func(observations int) prometheus.Histogram {
		durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "evaluation_duration_seconds", Buckets: []float64{0.001, 0.01, 0.1},
		}, []string{"throttler"})
		for i := 0; i < observations; i++ {
			durations.WithLabelValues("login").Observe(0.002)
		}
		return durations.WithLabelValues("login").(prometheus.Histogram)
	}

	r := &failureRecorder{}
	RequireSamplesCountInHistogram(r, newDurations(1), 0)
	require.True(t, r.stopped)
	require.Len(t, r.errors, 1)

	r = &failureRecorder{}
	RequireSamplesCountInHistogram(r, newDurations(3), 3)
	require.False(t, r.stopped)
	require.Empty(t, r.errors)
}
