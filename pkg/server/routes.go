package server

import (
	"net/http"
	"strings"

	"mercator-hq/exporter/pkg/api/handlers"
	"mercator-hq/exporter/pkg/api/middleware"
	"mercator-hq/exporter/pkg/telemetry/health"
	"mercator-hq/exporter/pkg/telemetry/tracing"
)

// routes mounts every endpoint and wraps the mux in the middleware chain.
// Recovery is outermost; the tracer sits directly around the mux so spans
// are named after the matched pattern.
func (s *Server) routes() http.Handler {
	cfg := s.config
	mux := http.NewServeMux()

	health.Register(mux, cfg.Telemetry.Health, s.telemetry.Health(), s.build.Version, s.build.Commit, s.build.BuildTime)

	metrics := s.telemetry.Metrics()
	if metrics.Enabled() {
		mux.Handle("GET "+cfg.Telemetry.Metrics.Path, metrics.Handler())
	}

	handlers.NewExportHandler(s.orch).Register(mux, s.auth.Handle)
	mux.Handle("GET "+cfg.Server.WebSocket.Path, s.auth.Handle(s.hub))

	return middleware.Chain(
		tracing.HTTPMiddleware(s.telemetry.Tracer().Tracer())(middleware.CaptureRoute(mux)),
		middleware.RecoveryMiddleware,
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware,
		middleware.MetricsMiddleware(metrics),
		middleware.CORSMiddleware(cfg.Server.CORS),
		middleware.MaxBodyMiddleware(cfg.Server.MaxBodyBytes),
		middleware.TimeoutMiddleware(cfg.Server.RequestTimeout, isDownload),
	)
}

// isDownload matches artifact downloads, which stream for as long as the
// write timeout allows.
func isDownload(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/download")
}
