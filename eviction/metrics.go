/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package eviction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratelimit/internal/libinfo"
)

const metricsLabelThrottler = "throttler"

// MetricsCollector collects metrics of the eviction scheduler.
// A nil *MetricsCollector is valid and collects nothing.
type MetricsCollector struct {
	TrimmedKeys  *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	PassDuration prometheus.Histogram
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	constLabels := libinfo.AddPrometheusLibVersionLabel(nil)
	return &MetricsCollector{
		TrimmedKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_eviction_trimmed_keys_total",
			Help:        "Number of keys trimmed by the eviction scheduler.",
		}, []string{metricsLabelThrottler}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_eviction_errors_total",
			Help:        "Number of keys the eviction scheduler failed to trim.",
		}, []string{metricsLabelThrottler}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_eviction_pass_duration_seconds",
			Help:        "Duration of eviction passes.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	if mc == nil {
		return
	}
	prometheus.MustRegister(mc.TrimmedKeys, mc.Errors, mc.PassDuration)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	if mc == nil {
		return
	}
	prometheus.Unregister(mc.TrimmedKeys)
	prometheus.Unregister(mc.Errors)
	prometheus.Unregister(mc.PassDuration)
}

func (mc *MetricsCollector) addTrimmed(throttler string, n int) {
	if mc == nil || n == 0 {
		return
	}
	mc.TrimmedKeys.WithLabelValues(throttler).Add(float64(n))
}

func (mc *MetricsCollector) addErrors(throttler string, n int) {
	if mc == nil || n == 0 {
		return
	}
	mc.Errors.WithLabelValues(throttler).Add(float64(n))
}

func (mc *MetricsCollector) observePass(elapsed time.Duration) {
	if mc == nil {
		return
	}
	mc.PassDuration.Observe(elapsed.Seconds())
}
