// Package config provides configuration management for the exporter service.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("exporter.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("exporter.yaml")
//
// Unknown YAML keys are rejected so typos surface at startup.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention EXPORTER_SECTION_FIELD.
// For example:
//
//   - EXPORTER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - EXPORTER_ARTIFACTS_S3_SECRET_ACCESS_KEY overrides artifacts.s3.secret_access_key
//   - EXPORTER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A malformed override (e.g. EXPORTER_JOBS_WORKERS=many) fails loading.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Tiers
//
// The tiers table holds the permission facts of each access tier. The
// TierResolver turns it into export.Permissions for the orchestrator and can
// be updated in place when the file is reloaded.
//
// # Hot Reload
//
// With watch.enabled set, a Watcher reloads the file on change and passes
// the new configuration to its callbacks. Only tier limits, estimates, API
// keys and the log level are applied to a running server; other sections
// need a restart.
package config
