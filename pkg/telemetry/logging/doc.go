// Package logging configures the process-wide structured logger.
//
// # Overview
//
// The package wraps log/slog and adds:
//   - JSON or text output
//   - A level that can be changed at runtime (used by config hot reload)
//   - Request, user and job fields taken from the context
//   - Redaction of API keys, bearer tokens and passwords in attribute values
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	logger.SetDefault()
//
//	// Components log through slog.Default():
//	log := slog.Default().With("component", "export.orchestrator")
//	log.InfoContext(ctx, "export created", "job_id", id)
//
// Attributes whose key names a credential ("api_key", "authorization",
// "secret_access_key", ...) are masked entirely; other string values are
// scanned for credential patterns.
package logging
