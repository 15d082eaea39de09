package telemetry

import (
	"context"
	"testing"

	"mercator-hq/exporter/pkg/config"
)

func TestNew(t *testing.T) {
	cfg := config.Default()

	tel, err := New(&cfg.Telemetry, "test")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if tel.Logger() == nil || tel.Metrics() == nil || tel.Tracer() == nil || tel.Health() == nil {
		t.Fatal("New() returned incomplete telemetry")
	}
	if tel.Tracer().Enabled() {
		t.Error("tracing enabled by default")
	}

	families, err := tel.Metrics().Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry has no runtime metrics")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}

func TestNew_InvalidLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Logging.Level = "loud"

	if _, err := New(&cfg.Telemetry, "test"); err == nil {
		t.Error("New() succeeded with invalid log level")
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Error("New(nil) succeeded")
	}
}
