package lifecycle

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLifecycleStates       *prometheus.CounterVec
	prometheusLifecycleVerifyWarn   prometheus.Counter
	prometheusLifecycleExecuteTime  prometheus.Histogram
	prometheusLifecycleRecordErrors prometheus.Counter

	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLifecycleStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "btcflow",
			Subsystem: "lifecycle",
			Name:      "state_entered_total",
			Help:      "Number of times a transaction entered each lifecycle state",
		},
		[]string{
			"state",
		},
	)
	prometheusLifecycleVerifyWarn = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btcflow",
			Subsystem: "lifecycle",
			Name:      "verify_warnings_total",
			Help:      "Number of post-broadcast verification warnings",
		},
	)
	prometheusLifecycleExecuteTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "btcflow",
			Subsystem: "lifecycle",
			Name:      "execute_duration_seconds",
			Help:      "Duration of a full create/sign/broadcast/verify/confirm pass",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
	prometheusLifecycleRecordErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "btcflow",
			Subsystem: "lifecycle",
			Name:      "journal_errors_total",
			Help:      "Number of lifecycle transitions that could not be journaled",
		},
	)
}
