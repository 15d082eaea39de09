// Package metrics provides Prometheus metrics for the exporter.
//
// # Metrics
//
// Jobs (recorded through the orchestrator's Observer interface):
//   - exporter_jobs_created_total{format,kind}
//   - exporter_jobs_finished_total{format,status}
//   - exporter_job_duration_seconds{format,status}
//   - exporter_stage_duration_seconds{stage}
//   - exporter_active_jobs
//   - exporter_progress_subscribers
//   - exporter_worker_running_tasks, exporter_worker_queued_tasks
//
// HTTP and WebSocket:
//   - exporter_http_requests_total{method,route,status}
//   - exporter_http_request_duration_seconds{method,route}
//   - exporter_websocket_connections
//   - exporter_websocket_messages_total{direction,type}
//
// Retention:
//   - exporter_retention_sweeps_total
//   - exporter_retention_deleted_total{kind}
//   - exporter_retention_failures_total
//   - exporter_retention_sweep_duration_seconds
//   - exporter_retention_last_sweep_timestamp_seconds
//
// Route labels come from mux patterns and are capped by a CardinalityLimiter.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle("GET "+cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
