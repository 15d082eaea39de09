// Package server assembles the exporter process from its configuration.
//
// New opens the job store, the audit store, artifact storage and the
// record source named by the configuration, builds the export orchestrator
// on top of them and mounts the HTTP surface. Start reconciles jobs left
// running by a previous process, starts the background loops (progress
// sweep, WebSocket statistics, retention schedule, certificate reload) and
// serves until its context is cancelled.
//
// # Endpoints
//
//   - POST /exports, POST /exports/batch - create an export
//   - GET /exports/formats - formats available to the caller
//   - GET /exports/{id}/status, GET /exports/{id}/download
//   - POST /exports/{id}/cancel, POST /exports/{id}/retry
//   - DELETE /exports/{id}
//   - GET /users/{id}/exports, GET /users/{id}/exports/stats
//   - GET /ws/exports - progress channel (see package realtime)
//   - GET /health, GET /ready, GET /version, GET /metrics
//
// Export, history and WebSocket routes require an authenticated principal.
//
// # Middleware Chain
//
// Requests pass through, outermost first:
//  1. Recovery: turns panics into 500 responses
//  2. RequestID: assigns or propagates X-Request-ID
//  3. Logging: one structured line per request
//  4. Metrics: request counts and latencies by route
//  5. CORS
//  6. MaxBody: caps JSON request bodies
//  7. Timeout: bounds API requests; downloads and upgrades are exempt
//  8. Tracing: one server span per request, named after the route
//
// # Shutdown
//
// Shutdown stops the listener, closes WebSocket connections with a going
// away frame, drains running jobs through the orchestrator and closes the
// stores, all within server.shutdown_timeout.
//
// # Hot Reload
//
// ApplyConfig takes a reloaded configuration and applies tier permissions,
// estimates, API keys and the log level. Everything else is read once.
package server
