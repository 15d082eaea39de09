package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/exporter/pkg/config"
)

// RetentionMetrics tracks the retention sweeper.
type RetentionMetrics struct {
	sweeps   prometheus.Counter
	deleted  *prometheus.CounterVec
	failures prometheus.Counter
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
}

// NewRetentionMetrics creates and registers the retention metrics.
func NewRetentionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RetentionMetrics {
	m := &RetentionMetrics{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "retention",
			Name:      "sweeps_total",
			Help:      "Total number of retention sweeps",
		}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Total number of items removed by retention, by kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "retention",
			Name:      "failures_total",
			Help:      "Total number of jobs retention failed to delete",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "retention",
			Name:      "sweep_duration_seconds",
			Help:      "Retention sweep duration",
			Buckets:   prometheus.DefBuckets,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "retention",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}

	registry.MustRegister(m.sweeps, m.deleted, m.failures, m.duration, m.lastRun)
	return m
}
