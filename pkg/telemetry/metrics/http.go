package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/exporter/pkg/config"
)

// HTTPMetrics tracks the REST API and the progress WebSocket.
type HTTPMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"method", "route"},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "websocket",
				Name:      "connections",
				Help:      "Number of open progress stream connections",
			},
		),
		wsMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "websocket",
				Name:      "messages_total",
				Help:      "Total number of progress stream messages",
			},
			[]string{"direction", "type"},
		),
	}

	registry.MustRegister(m.requests, m.duration, m.wsConnections, m.wsMessages)
	return m
}
