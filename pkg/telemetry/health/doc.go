// Package health provides liveness, readiness and version endpoints.
//
// # Endpoints
//
//   - liveness (default /health): the process is running
//   - readiness (default /ready): registered component checks pass
//   - version (default /version): build information
//
// # Checks
//
// Critical checks fail readiness with 503; optional checks only report
// "degraded". The server registers:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("store", health.PingCheck(store))
//	checker.RegisterCheck("artifacts", health.PingCheck(storage))
//	checker.RegisterOptionalCheck("records", health.BreakerCheck("records", source.State))
//	checker.RegisterOptionalCheck("workers", health.SaturationCheck(orch.Saturated))
//	health.Register(mux, cfg.Telemetry.Health, checker, version, commit, buildTime)
package health
