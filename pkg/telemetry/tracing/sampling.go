package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampling strategies determine which traces are recorded and exported.
const (
	// SamplerAlways samples all traces
	SamplerAlways = "always"

	// SamplerNever samples no traces
	SamplerNever = "never"

	// SamplerRatio samples a percentage of traces
	SamplerRatio = "ratio"

	// Parent-based variants follow the caller's sampling decision and fall
	// back to the base strategy for root spans.
	SamplerParentBasedAlways = "parentbased_always"
	SamplerParentBasedNever  = "parentbased_never"
	SamplerParentBasedRatio  = "parentbased_ratio"
)

// createSampler creates a sampler based on the strategy and ratio.
//
// TraceIDRatioBased samples on the trace ID hash, so every service that sees
// the same trace reaches the same decision.
//
//	telemetry:
//	  tracing:
//	    sampler: parentbased_ratio
//	    sample_ratio: 0.1  # Sample 10% of root traces
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	if ratio < 0.0 || ratio > 1.0 {
		return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
	}

	switch strategy {
	case SamplerAlways:
		return sdktrace.AlwaysSample(), nil
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio:
		return sdktrace.TraceIDRatioBased(ratio), nil
	case SamplerParentBasedAlways:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case SamplerParentBasedNever:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case SamplerParentBasedRatio, "":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s", strategy)
	}
}
