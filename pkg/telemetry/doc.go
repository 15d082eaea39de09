// Package telemetry provides observability for the exporter.
//
// # Components
//
//   - logging: structured slog logging with secret redaction
//   - metrics: Prometheus metrics for jobs, HTTP, WebSocket and retention
//   - tracing: OpenTelemetry tracing exported over OTLP gRPC
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, version)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Logger().Slog().Info("export created", "job_id", id)
//	ctx, span := tel.Tracer().Tracer().Start(ctx, "export.execute")
//	defer span.End()
package telemetry
