// Package tracing provides OpenTelemetry distributed tracing for the
// exporter.
//
// # Overview
//
// New installs a tracer provider that exports spans to an OTLP gRPC
// collector and sets the W3C Trace Context and Baggage propagators. When
// tracing is disabled a noop tracer is returned and the propagators are
// still installed, so trace context keeps flowing to the record source.
//
// Spans produced by the service:
//   - one server span per HTTP request (HTTPMiddleware)
//   - export.execute per job run, with export.fetch, export.generate and
//     export.persist children
//
// # Sampling
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: "otel-collector:4317"
//	    sampler: parentbased_ratio
//	    sample_ratio: 0.1
//
// Supported samplers: always, never, ratio and their parentbased_ variants.
package tracing
