package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export/worker"
)

// JobMetrics tracks export job throughput and latency.
type JobMetrics struct {
	created  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	stage    *prometheus.HistogramVec
	active   prometheus.Gauge

	subscribers prometheus.Gauge
}

// NewJobMetrics creates and registers the job metrics.
//
// Metrics:
//   - <namespace>_jobs_created_total{format,kind}
//   - <namespace>_jobs_finished_total{format,status}
//   - <namespace>_job_duration_seconds{format,status}
//   - <namespace>_stage_duration_seconds{stage}
//   - <namespace>_active_jobs
//   - <namespace>_progress_subscribers
func NewJobMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JobMetrics {
	m := &JobMetrics{
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "jobs_created_total",
				Help:      "Total number of accepted export jobs",
			},
			[]string{"format", "kind"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of export jobs that reached a terminal status",
			},
			[]string{"format", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "job_duration_seconds",
				Help:      "Export job duration from creation to terminal status",
				Buckets:   cfg.JobDurationBuckets,
			},
			[]string{"format", "status"},
		),
		stage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each export pipeline stage",
				Buckets:   cfg.JobDurationBuckets,
			},
			[]string{"stage"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "active_jobs",
				Help:      "Number of export jobs that are not yet terminal",
			},
		),
		subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "progress_subscribers",
				Help:      "Number of live progress subscriptions",
			},
		),
	}

	registry.MustRegister(m.created, m.finished, m.duration, m.stage, m.active, m.subscribers)
	return m
}

func (m *JobMetrics) registerPool(cfg *config.MetricsConfig, registry *prometheus.Registry, stats func() worker.Stats) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "worker_running_tasks",
				Help:      "Number of export tasks currently executing",
			},
			func() float64 { return float64(stats().Running) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "worker_queued_tasks",
				Help:      "Number of export tasks waiting for a worker",
			},
			func() float64 { return float64(stats().Queued) },
		),
	)
}
