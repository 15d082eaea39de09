package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Known format and tier names.
var (
	knownFormats = []string{"document", "data", "tabular"}
	knownTiers   = []string{"basic", "standard", "premium", "enterprise"}
	knownRoles   = []string{"user", "admin"}
)

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateJobs(&cfg.Jobs)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateArtifacts(&cfg.Artifacts)...)
	errs = append(errs, validateRecords(&cfg.Records)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateProgress(&cfg.Progress)...)
	errs = append(errs, validateTiers(cfg.Tiers)...)
	errs = append(errs, validateEstimates(&cfg.Estimates)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if cfg.Secrets.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "secrets.cache_ttl", Message: "must not be negative"})
	}
	if cfg.Secrets.Watch && cfg.Secrets.Dir == "" {
		errs = append(errs, FieldError{Field: "secrets.watch", Message: "requires secrets.dir"})
	}

	if cfg.Watch.Debounce < 0 {
		errs = append(errs, FieldError{Field: "watch.debounce", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError

	if s.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "must not be empty"})
	} else if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
	}

	durations := map[string]int64{
		"server.read_timeout":     int64(s.ReadTimeout),
		"server.write_timeout":    int64(s.WriteTimeout),
		"server.idle_timeout":     int64(s.IdleTimeout),
		"server.request_timeout":  int64(s.RequestTimeout),
		"server.shutdown_timeout": int64(s.ShutdownTimeout),
	}
	for _, field := range sortedKeys(durations) {
		if durations[field] <= 0 {
			errs = append(errs, FieldError{Field: field, Message: "must be positive"})
		}
	}

	if s.MaxHeaderBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "must be positive"})
	}
	if s.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must be positive"})
	}
	if s.CORS.MaxAge < 0 {
		errs = append(errs, FieldError{Field: "server.cors.max_age", Message: "must not be negative"})
	}

	if s.TLS.Enabled {
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls", Message: "cert_file and key_file are required when TLS is enabled"})
		}
		if s.TLS.MinVersion != "1.2" && s.TLS.MinVersion != "1.3" {
			errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("unsupported version %q (allowed: 1.2, 1.3)", s.TLS.MinVersion)})
		}
		if s.TLS.ReloadInterval <= 0 {
			errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "must be positive"})
		}
	}

	ws := &s.WebSocket
	if !strings.HasPrefix(ws.Path, "/") {
		errs = append(errs, FieldError{Field: "server.websocket.path", Message: "must start with /"})
	}
	if ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.websocket.ping_interval", Message: "ping interval and pong timeout must be positive"})
	} else if ws.PingInterval >= ws.PongTimeout {
		errs = append(errs, FieldError{Field: "server.websocket.ping_interval", Message: "must be shorter than pong_timeout"})
	}
	if ws.SendBuffer <= 0 {
		errs = append(errs, FieldError{Field: "server.websocket.send_buffer", Message: "must be positive"})
	}
	if ws.MaxSubscriptions <= 0 {
		errs = append(errs, FieldError{Field: "server.websocket.max_subscriptions", Message: "must be positive"})
	}

	return errs
}

func validateJobs(j *JobsConfig) []FieldError {
	var errs []FieldError

	if j.Workers <= 0 {
		errs = append(errs, FieldError{Field: "jobs.workers", Message: "must be positive"})
	}
	if j.QueueSize < 0 {
		errs = append(errs, FieldError{Field: "jobs.queue_size", Message: "must not be negative"})
	}
	if j.HistoryLimit <= 0 {
		errs = append(errs, FieldError{Field: "jobs.history_limit", Message: "must be positive"})
	}
	if j.MaxHistoryLimit < j.HistoryLimit {
		errs = append(errs, FieldError{Field: "jobs.max_history_limit", Message: "must be at least history_limit"})
	}

	return errs
}

func validateStore(s *StoreConfig) []FieldError {
	var errs []FieldError

	switch s.Backend {
	case "memory":
	case "sqlite":
		errs = append(errs, validateSQLite("store.sqlite", &s.SQLite)...)
	default:
		errs = append(errs, FieldError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q (want sqlite or memory)", s.Backend)})
	}

	return errs
}

func validateSQLite(prefix string, s *SQLiteConfig) []FieldError {
	var errs []FieldError

	if s.Path == "" {
		errs = append(errs, FieldError{Field: prefix + ".path", Message: "must not be empty"})
	}
	if s.MaxOpenConns <= 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_open_conns", Message: "must be positive"})
	}
	if s.MaxIdleConns < 0 || s.MaxIdleConns > s.MaxOpenConns {
		errs = append(errs, FieldError{Field: prefix + ".max_idle_conns", Message: "must be between 0 and max_open_conns"})
	}
	if s.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".busy_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateArtifacts(a *ArtifactsConfig) []FieldError {
	var errs []FieldError

	switch a.Backend {
	case "memory":
	case "filesystem":
		if a.Path == "" {
			errs = append(errs, FieldError{Field: "artifacts.path", Message: "must not be empty for the filesystem backend"})
		}
	case "s3":
		if a.S3.Endpoint == "" {
			errs = append(errs, FieldError{Field: "artifacts.s3.endpoint", Message: "must not be empty for the s3 backend"})
		} else if strings.Contains(a.S3.Endpoint, "://") {
			errs = append(errs, FieldError{Field: "artifacts.s3.endpoint", Message: "must be host[:port] without a scheme"})
		}
		if a.S3.Bucket == "" {
			errs = append(errs, FieldError{Field: "artifacts.s3.bucket", Message: "must not be empty for the s3 backend"})
		}
	default:
		errs = append(errs, FieldError{Field: "artifacts.backend", Message: fmt.Sprintf("unknown backend %q (want filesystem, s3 or memory)", a.Backend)})
	}

	return errs
}

func validateRecords(r *RecordsConfig) []FieldError {
	var errs []FieldError

	switch r.Source {
	case "sample":
	case "file":
		if r.FilePath == "" {
			errs = append(errs, FieldError{Field: "records.file_path", Message: "must not be empty for the file source"})
		}
	case "http":
		if r.HTTP.BaseURL == "" {
			errs = append(errs, FieldError{Field: "records.http.base_url", Message: "must not be empty for the http source"})
		} else if u, err := url.Parse(r.HTTP.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{Field: "records.http.base_url", Message: "must be an absolute http or https URL"})
		}
	default:
		errs = append(errs, FieldError{Field: "records.source", Message: fmt.Sprintf("unknown source %q (want http, file or sample)", r.Source)})
	}

	if r.HTTP.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "records.http.timeout", Message: "must be positive"})
	}
	if r.HTTP.MaxRetries < 1 {
		errs = append(errs, FieldError{Field: "records.http.max_retries", Message: "must be at least 1"})
	}
	if r.HTTP.BreakerFailureRatio <= 0 || r.HTTP.BreakerFailureRatio > 1 {
		errs = append(errs, FieldError{Field: "records.http.breaker_failure_ratio", Message: "must be in (0, 1]"})
	}

	return errs
}

func validateAudit(a *AuditConfig) []FieldError {
	var errs []FieldError

	if !Bool(a.Enabled, DefaultAuditEnabled) {
		return nil
	}

	switch a.Backend {
	case "memory":
	case "sqlite":
		if a.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "must not be empty"})
		}
	default:
		errs = append(errs, FieldError{Field: "audit.backend", Message: fmt.Sprintf("unknown backend %q (want sqlite or memory)", a.Backend)})
	}
	if a.AsyncBuffer <= 0 {
		errs = append(errs, FieldError{Field: "audit.async_buffer", Message: "must be positive"})
	}
	if a.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "must be positive"})
	}

	return errs
}

func validateRetention(r *RetentionConfig) []FieldError {
	var errs []FieldError

	if r.MaxAge < 0 {
		errs = append(errs, FieldError{Field: "retention.max_age", Message: "must not be negative"})
	}
	if r.AuditMaxAge < 0 {
		errs = append(errs, FieldError{Field: "retention.audit_max_age", Message: "must not be negative"})
	}
	if r.BatchSize <= 0 {
		errs = append(errs, FieldError{Field: "retention.batch_size", Message: "must be positive"})
	}
	if Bool(r.Enabled, DefaultRetentionEnabled) {
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "retention.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	return errs
}

func validateProgress(p *ProgressConfig) []FieldError {
	var errs []FieldError

	if p.RetentionWindow <= 0 {
		errs = append(errs, FieldError{Field: "progress.retention_window", Message: "must be positive"})
	}
	if p.SweepInterval <= 0 {
		errs = append(errs, FieldError{Field: "progress.sweep_interval", Message: "must be positive"})
	}

	return errs
}

func validateTiers(tiers map[string]TierConfig) []FieldError {
	var errs []FieldError

	for _, name := range sortedKeys(tiers) {
		tier := tiers[name]
		prefix := "tiers." + name
		if !slices.Contains(knownTiers, name) {
			errs = append(errs, FieldError{Field: prefix, Message: fmt.Sprintf("unknown tier (want one of %s)", strings.Join(knownTiers, ", "))})
			continue
		}
		for _, f := range tier.AllowedFormats {
			if !slices.Contains(knownFormats, f) {
				errs = append(errs, FieldError{Field: prefix + ".allowed_formats", Message: fmt.Sprintf("unknown format %q", f)})
			}
		}
		if tier.MaxRecords <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_records", Message: "must be positive"})
		}
		if tier.MaxBatchRecords < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_batch_records", Message: "must not be negative"})
		}
		if name == "basic" && tier.MaxBatchRecords > 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_batch_records", Message: "batch exports are not available for the basic tier"})
		}
		if tier.MaxActiveJobs < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_active_jobs", Message: "must not be negative"})
		}
		if tier.CreatesPerMinute < 0 {
			errs = append(errs, FieldError{Field: prefix + ".creates_per_minute", Message: "must not be negative"})
		}
	}

	return errs
}

func validateEstimates(e *EstimatesConfig) []FieldError {
	var errs []FieldError

	for _, name := range sortedKeys(e.Formats) {
		est := e.Formats[name]
		if est.Base < 0 || est.PerRecord < 0 {
			errs = append(errs, FieldError{Field: "estimates.formats." + name, Message: "durations must not be negative"})
		}
	}
	if e.BatchOverhead < 1 {
		errs = append(errs, FieldError{Field: "estimates.batch_overhead", Message: "must be at least 1"})
	}

	return errs
}

func validateAuth(a *AuthConfig) []FieldError {
	var errs []FieldError

	for i, src := range a.Sources {
		prefix := fmt.Sprintf("auth.sources[%d]", i)
		if src.Type != "header" && src.Type != "query" {
			errs = append(errs, FieldError{Field: prefix + ".type", Message: fmt.Sprintf("unknown source type %q (want header or query)", src.Type)})
		}
		if src.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "must not be empty"})
		}
	}

	seen := make(map[string]bool, len(a.Keys))
	for i, key := range a.Keys {
		prefix := fmt.Sprintf("auth.keys[%d]", i)
		if key.Key == "" {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "must not be empty"})
		} else if seen[key.Key] {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "duplicate key"})
		}
		seen[key.Key] = true
		errs = append(errs, validatePrincipal(prefix, key)...)
	}
	errs = append(errs, validatePrincipal("auth.anonymous", a.Anonymous)...)

	if Bool(a.Enabled, DefaultAuthEnabled) && len(a.Keys) == 0 {
		errs = append(errs, FieldError{Field: "auth.keys", Message: "at least one key is required when auth is enabled"})
	}

	return errs
}

func validatePrincipal(prefix string, k APIKeyConfig) []FieldError {
	var errs []FieldError
	if k.UserID == "" {
		errs = append(errs, FieldError{Field: prefix + ".user_id", Message: "must not be empty"})
	}
	if !slices.Contains(knownRoles, k.Role) {
		errs = append(errs, FieldError{Field: prefix + ".role", Message: fmt.Sprintf("unknown role %q", k.Role)})
	}
	if !slices.Contains(knownTiers, k.Tier) {
		errs = append(errs, FieldError{Field: prefix + ".tier", Message: fmt.Sprintf("unknown tier %q", k.Tier)})
	}
	return errs
}

func validateTelemetry(t *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(t.Logging.Level)) {
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))})
	}
	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, strings.ToLower(t.Logging.Format)) {
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("must be one of: %s", strings.Join(validFormats, ", "))})
	}
	for i, p := range t.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i), Message: "must not be empty"})
		}
	}

	if !strings.HasPrefix(t.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}
	if !slices.IsSorted(t.Metrics.JobDurationBuckets) {
		errs = append(errs, FieldError{Field: "telemetry.metrics.job_duration_buckets", Message: "must be in ascending order"})
	}
	if !slices.IsSorted(t.Metrics.RequestDurationBuckets) {
		errs = append(errs, FieldError{Field: "telemetry.metrics.request_duration_buckets", Message: "must be in ascending order"})
	}

	if t.Tracing.Enabled {
		validSamplers := []string{"always", "never", "ratio", "parentbased_always", "parentbased_never", "parentbased_ratio"}
		if !slices.Contains(validSamplers, t.Tracing.Sampler) {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("must be one of: %s", strings.Join(validSamplers, ", "))})
		}
		if t.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "must not be empty when tracing is enabled"})
		}
	}
	if t.Tracing.SampleRatio < 0 || t.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
	}

	for field, path := range map[string]string{
		"telemetry.health.liveness_path":  t.Health.LivenessPath,
		"telemetry.health.readiness_path": t.Health.ReadinessPath,
		"telemetry.health.version_path":   t.Health.VersionPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "must start with /"})
		}
	}
	if t.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.check_timeout", Message: "must be positive"})
	}

	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
