package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/worker"
)

// maxRouteCardinality bounds the number of distinct route labels. Requests
// beyond the limit are recorded under the "other" route.
const maxRouteCardinality = 200

// Collector owns the Prometheus metrics of the exporter. It implements the
// orchestrator's Observer interface and exposes recorders for the HTTP
// layer, the WebSocket hub and the retention sweeper.
//
// A collector built from a disabled configuration registers nothing and
// every recorder is a no-op.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry
	enabled  bool

	jobs      *JobMetrics
	http      *HTTPMetrics
	retention *RetentionMetrics

	routes *CardinalityLimiter
}

// NewCollector creates a collector registered on registry. A nil registry
// gets a fresh one, so tests never touch the global default registry.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	orch := orchestrator.New(orchestrator.Dependencies{Observer: collector, ...}, ocfg)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.JobDurationBuckets) == 0 {
		cfg.JobDurationBuckets = config.DefaultJobDurationBuckets
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = config.DefaultRequestDurationBuckets
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
		enabled:  config.Bool(cfg.Enabled, true),
		routes:   NewCardinalityLimiter(maxRouteCardinality),
	}
	if !c.enabled {
		return c
	}

	c.jobs = NewJobMetrics(cfg, registry)
	c.http = NewHTTPMetrics(cfg, registry)
	c.retention = NewRetentionMetrics(cfg, registry)
	return c
}

// Enabled reports whether metrics are collected.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// JobCreated counts an accepted export job.
func (c *Collector) JobCreated(format export.Format, kind export.Kind) {
	if !c.enabled {
		return
	}
	c.jobs.created.WithLabelValues(string(format), string(kind)).Inc()
}

// JobFinished counts a job reaching a terminal status and observes its
// wall-clock duration.
func (c *Collector) JobFinished(format export.Format, status export.Status, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.jobs.finished.WithLabelValues(string(format), string(status)).Inc()
	c.jobs.duration.WithLabelValues(string(format), string(status)).Observe(duration.Seconds())
}

// StageCompleted observes the duration of one pipeline stage.
func (c *Collector) StageCompleted(stage string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.jobs.stage.WithLabelValues(stage).Observe(duration.Seconds())
}

// ActiveJobs sets the number of jobs that are not yet terminal.
func (c *Collector) ActiveJobs(n int) {
	if !c.enabled {
		return
	}
	c.jobs.active.Set(float64(n))
}

// ProgressSubscribers sets the number of live progress subscriptions. It
// matches the tracker's observer signature.
func (c *Collector) ProgressSubscribers(n int) {
	if !c.enabled {
		return
	}
	c.jobs.subscribers.Set(float64(n))
}

// RegisterPool exposes the worker pool's running and queued task counts.
// stats is called on every scrape.
func (c *Collector) RegisterPool(stats func() worker.Stats) {
	if !c.enabled || stats == nil {
		return
	}
	c.jobs.registerPool(c.config, c.registry, stats)
}

// RecordHTTPRequest records one served HTTP request. route is the matched
// mux pattern; an empty route is recorded as "unmatched".
func (c *Collector) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	if !c.enabled {
		return
	}
	if route == "" {
		route = "unmatched"
	} else if !c.routes.Allow(route) {
		route = "other"
	}
	c.http.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.http.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// WebSocketConnected tracks an opened progress stream connection.
func (c *Collector) WebSocketConnected() {
	if !c.enabled {
		return
	}
	c.http.wsConnections.Inc()
}

// WebSocketDisconnected tracks a closed progress stream connection.
func (c *Collector) WebSocketDisconnected() {
	if !c.enabled {
		return
	}
	c.http.wsConnections.Dec()
}

// RecordWebSocketMessage counts a message sent to or received from a client.
// direction is "in" or "out".
func (c *Collector) RecordWebSocketMessage(direction, msgType string) {
	if !c.enabled {
		return
	}
	c.http.wsMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordSweep records the outcome of a retention sweep.
func (c *Collector) RecordSweep(deleted, failed, orphans int, auditPruned int64, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.retention.sweeps.Inc()
	c.retention.deleted.WithLabelValues("job").Add(float64(deleted))
	c.retention.deleted.WithLabelValues("orphan").Add(float64(orphans))
	c.retention.deleted.WithLabelValues("audit").Add(float64(auditPruned))
	c.retention.failures.Add(float64(failed))
	c.retention.duration.Observe(duration.Seconds())
	c.retention.lastRun.SetToCurrentTime()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label value may be used. Values already seen are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
