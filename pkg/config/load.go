package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "EXPORTER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML into a Config without applying defaults. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(data) == 0 {
		return &cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention EXPORTER_SECTION_FIELD (e.g., EXPORTER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// envOverrides collects malformed values so they are reported together.
type envOverrides struct {
	errs []FieldError
}

func (e *envOverrides) str(name string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		*dst = val
	}
}

func (e *envOverrides) int(name string, dst *int) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid integer %q", val)})
		return
	}
	*dst = i
}

func (e *envOverrides) duration(name string, dst *time.Duration) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid duration %q", val)})
		return
	}
	*dst = d
}

func (e *envOverrides) boolean(name string, dst **bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid boolean %q", val)})
		return
	}
	*dst = &b
}

func (e *envOverrides) float(name string, dst *float64) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.errs = append(e.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid number %q", val)})
		return
	}
	*dst = f
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed values are an error rather than being silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envOverrides{}

	// Server overrides
	e.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	e.duration("SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.int("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)

	// Job overrides
	e.int("JOBS_WORKERS", &cfg.Jobs.Workers)
	e.int("JOBS_QUEUE_SIZE", &cfg.Jobs.QueueSize)
	e.boolean("JOBS_RECONCILE_ON_START", &cfg.Jobs.ReconcileOnStart)

	// Store overrides
	e.str("STORE_BACKEND", &cfg.Store.Backend)
	e.str("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)

	// Artifact overrides
	e.str("ARTIFACTS_BACKEND", &cfg.Artifacts.Backend)
	e.str("ARTIFACTS_PATH", &cfg.Artifacts.Path)
	e.str("ARTIFACTS_S3_ENDPOINT", &cfg.Artifacts.S3.Endpoint)
	e.str("ARTIFACTS_S3_BUCKET", &cfg.Artifacts.S3.Bucket)
	e.str("ARTIFACTS_S3_REGION", &cfg.Artifacts.S3.Region)
	e.str("ARTIFACTS_S3_ACCESS_KEY_ID", &cfg.Artifacts.S3.AccessKeyID)
	e.str("ARTIFACTS_S3_SECRET_ACCESS_KEY", &cfg.Artifacts.S3.SecretAccessKey)
	e.boolean("ARTIFACTS_S3_USE_SSL", &cfg.Artifacts.S3.UseSSL)

	// Record source overrides
	e.str("RECORDS_SOURCE", &cfg.Records.Source)
	e.str("RECORDS_FILE_PATH", &cfg.Records.FilePath)
	e.str("RECORDS_HTTP_BASE_URL", &cfg.Records.HTTP.BaseURL)
	e.str("RECORDS_HTTP_API_KEY", &cfg.Records.HTTP.APIKey)
	e.duration("RECORDS_HTTP_TIMEOUT", &cfg.Records.HTTP.Timeout)

	// Audit overrides
	e.boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	e.str("AUDIT_BACKEND", &cfg.Audit.Backend)
	e.str("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)

	// Retention overrides
	e.boolean("RETENTION_ENABLED", &cfg.Retention.Enabled)
	e.duration("RETENTION_MAX_AGE", &cfg.Retention.MaxAge)
	e.str("RETENTION_SCHEDULE", &cfg.Retention.Schedule)
	e.duration("RETENTION_AUDIT_MAX_AGE", &cfg.Retention.AuditMaxAge)

	// Auth overrides
	e.boolean("AUTH_ENABLED", &cfg.Auth.Enabled)

	// Telemetry overrides
	e.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	e.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	e.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	if val, ok := os.LookupEnv(EnvPrefix + "TELEMETRY_TRACING_ENABLED"); ok && val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.errs = append(e.errs, FieldError{Field: EnvPrefix + "TELEMETRY_TRACING_ENABLED", Message: fmt.Sprintf("invalid boolean %q", val)})
		} else {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	e.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	e.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	if len(e.errs) > 0 {
		return ValidationError{Errors: e.errs}
	}
	return nil
}
