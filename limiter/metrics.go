/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratelimit/internal/libinfo"
	"github.com/acronis/go-ratelimit/lrucache"
)

const (
	metricsLabelThrottler = "throttler"
	metricsLabelResult    = "result"
	metricsLabelStrategy  = "strategy"
)

// Values of the "result" label.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultBlocked = "blocked"
	ResultExempt  = "exempt"
)

// DefaultEvaluationDurationBuckets is the default buckets of the evaluation duration histogram (seconds).
var DefaultEvaluationDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// MetricsCollector collects metrics of the limiter.
// A nil *MetricsCollector is valid and collects nothing.
type MetricsCollector struct {
	Decisions          *prometheus.CounterVec
	StoreFailures      *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// FallbackKeys shows the churn of keys tracked by the sliding-window local fallback.
	FallbackKeys *lrucache.PrometheusMetrics
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	constLabels := libinfo.AddPrometheusLibVersionLabel(nil)
	return &MetricsCollector{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_decisions_total",
			Help:        "Number of rate limit decisions.",
		}, []string{metricsLabelThrottler, metricsLabelResult}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_store_failures_total",
			Help:        "Number of evaluations made by the failure strategy because the store was unavailable.",
		}, []string{metricsLabelThrottler, metricsLabelStrategy}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			ConstLabels: constLabels,
			Name:        "ratelimit_evaluation_duration_seconds",
			Help:        "Duration of rate limit evaluations.",
			Buckets:     DefaultEvaluationDurationBuckets,
		}, []string{metricsLabelThrottler}),
		FallbackKeys: lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
			Namespace:   namespace,
			Name:        "ratelimit_fallback_keys",
			ConstLabels: constLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	if mc == nil {
		return
	}
	prometheus.MustRegister(mc.Decisions, mc.StoreFailures, mc.EvaluationDuration)
	mc.FallbackKeys.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	if mc == nil {
		return
	}
	prometheus.Unregister(mc.Decisions)
	prometheus.Unregister(mc.StoreFailures)
	prometheus.Unregister(mc.EvaluationDuration)
	mc.FallbackKeys.Unregister()
}

func (mc *MetricsCollector) fallbackKeys() lrucache.MetricsCollector {
	if mc == nil {
		return nil
	}
	return mc.FallbackKeys
}

func (mc *MetricsCollector) observeDecision(throttler string, d Decision, elapsed time.Duration) {
	if mc == nil {
		return
	}
	mc.Decisions.WithLabelValues(throttler, decisionResult(d)).Inc()
	if !d.Exempt {
		mc.EvaluationDuration.WithLabelValues(throttler).Observe(elapsed.Seconds())
	}
}

func (mc *MetricsCollector) incStoreFailures(throttler string, strategy FailureStrategy) {
	if mc == nil {
		return
	}
	mc.StoreFailures.WithLabelValues(throttler, string(strategy)).Inc()
}

func decisionResult(d Decision) string {
	switch {
	case d.Exempt:
		return ResultExempt
	case d.Allowed:
		return ResultAllowed
	case d.Blocked():
		return ResultBlocked
	default:
		return ResultDenied
	}
}
