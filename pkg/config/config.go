package config

import "time"

// Config is the root configuration structure for the exporter service.
// It contains the HTTP server, the export engine, its storage backends and
// the telemetry settings.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and CORS.
	Server ServerConfig `yaml:"server"`

	// Jobs contains configuration for the export worker pool and history
	// paging.
	Jobs JobsConfig `yaml:"jobs"`

	// Store contains configuration for the durable job store.
	Store StoreConfig `yaml:"store"`

	// Artifacts contains configuration for finished artifact storage.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Records contains configuration for the record source client.
	Records RecordsConfig `yaml:"records"`

	// Audit contains configuration for the audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Retention contains configuration for scheduled cleanup of old jobs.
	Retention RetentionConfig `yaml:"retention"`

	// Progress contains configuration for the in-memory progress tracker.
	Progress ProgressConfig `yaml:"progress"`

	// Tiers maps an access tier name ("basic", "standard", "premium",
	// "enterprise") to its permission facts.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Estimates contains the completion time model per format.
	Estimates EstimatesConfig `yaml:"estimates"`

	// Auth contains API key authentication configuration.
	Auth AuthConfig `yaml:"auth"`

	// Secrets configures resolution of ${secret:name} references in
	// credential fields.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Watch controls hot reload of the configuration file.
	Watch WatchConfig `yaml:"watch"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8090", "0.0.0.0:8090").
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Downloads of large artifacts must finish within it.
	// Default: 120s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds the handling of a single API request. It does not
	// apply to downloads or the WebSocket channel.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown,
	// including draining running export jobs.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of JSON request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`

	// WebSocket contains configuration for the real-time progress channel.
	WebSocket WebSocketConfig `yaml:"websocket"`

	// TLS contains TLS termination configuration.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS termination of the HTTP server.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum accepted TLS version.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts the TLS 1.2 cipher suites. Empty uses the Go
	// defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS is enabled.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Authorization", "Content-Type", "X-API-Key", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// ExposedHeaders is a list of headers that are exposed to the client.
	// Default: ["Content-Disposition", "X-Request-ID"]
	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600 (1 hour)
	MaxAge int `yaml:"max_age"`
}

// WebSocketConfig configures the real-time progress channel.
type WebSocketConfig struct {
	// Path is the HTTP path of the WebSocket endpoint.
	// Default: "/ws/exports"
	Path string `yaml:"path"`

	// PingInterval is the period of server pings. Must be shorter than
	// PongTimeout.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongTimeout is how long the server waits for a pong before dropping
	// the connection.
	// Default: 60s
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// SendBuffer is the number of outbound messages queued per connection
	// before the connection is considered slow and closed.
	// Default: 64
	SendBuffer int `yaml:"send_buffer"`

	// MaxSubscriptions caps subscriptions per connection.
	// Default: 100
	MaxSubscriptions int `yaml:"max_subscriptions"`

	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows same-origin requests only; ["*"] allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// JobsConfig contains configuration for export execution.
type JobsConfig struct {
	// Workers is the number of export jobs executed concurrently.
	// Default: 4
	Workers int `yaml:"workers"`

	// QueueSize is the number of accepted jobs that may wait for a worker.
	// Requests beyond it are rejected with 503.
	// Default: 100
	QueueSize int `yaml:"queue_size"`

	// HistoryLimit is the default page size of user history listings.
	// Default: 20
	HistoryLimit int `yaml:"history_limit"`

	// MaxHistoryLimit caps the page size of user history listings.
	// Default: 100
	MaxHistoryLimit int `yaml:"max_history_limit"`

	// ReconcileOnStart marks jobs left non-terminal by a previous process as
	// failed before the server accepts requests.
	// Default: true
	ReconcileOnStart *bool `yaml:"reconcile_on_start"`
}

// StoreConfig contains configuration for the job store.
type StoreConfig struct {
	// Backend selects the store implementation.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains configuration for a SQLite database.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: "data/jobs.db" (job store), "data/audit.db" (audit)
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ArtifactsConfig contains configuration for artifact storage.
type ArtifactsConfig struct {
	// Backend selects the storage implementation.
	// Options: "filesystem", "s3", "memory"
	// Default: "filesystem"
	Backend string `yaml:"backend"`

	// Path is the root directory of the filesystem backend.
	// Default: "data/artifacts"
	Path string `yaml:"path"`

	// S3 contains configuration for S3-compatible object storage.
	S3 S3Config `yaml:"s3"`
}

// S3Config contains configuration for S3-compatible object storage.
type S3Config struct {
	// Endpoint is the host[:port] of the object store.
	// Example: "s3.amazonaws.com", "localhost:9000"
	Endpoint string `yaml:"endpoint"`

	// Bucket is the S3 bucket name. Created on startup if missing.
	Bucket string `yaml:"bucket"`

	// Region is the AWS region.
	// Default: "us-east-1"
	Region string `yaml:"region"`

	// Prefix is the key prefix for all stored objects.
	// Default: "exports/"
	Prefix string `yaml:"prefix"`

	// AccessKeyID is the access key; supports environment overrides.
	AccessKeyID string `yaml:"access_key_id"`

	// SecretAccessKey is the secret key; supports environment overrides.
	SecretAccessKey string `yaml:"secret_access_key"`

	// UseSSL enables TLS to the endpoint.
	// Default: true
	UseSSL *bool `yaml:"use_ssl"`
}

// RecordsConfig contains configuration for the record source.
type RecordsConfig struct {
	// Source selects the record source.
	// Options: "http" (detection store API), "file" (JSON fixture file),
	// "sample" (built-in demo records)
	// Default: "sample"
	Source string `yaml:"source"`

	// FilePath is the JSON file read when Source is "file".
	FilePath string `yaml:"file_path"`

	// HTTP contains configuration for the detection store client.
	HTTP RecordsHTTPConfig `yaml:"http"`
}

// RecordsHTTPConfig configures the detection store client.
type RecordsHTTPConfig struct {
	// BaseURL is the detection store API URL.
	// Example: "https://detections.internal/api/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single request attempt.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of attempts for transient failures.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// BreakerFailureRatio is the failure ratio that opens the circuit.
	// Default: 0.6
	BreakerFailureRatio float64 `yaml:"breaker_failure_ratio"`

	// BreakerMinRequests is the minimum number of requests before the
	// failure ratio is evaluated.
	// Default: 5
	BreakerMinRequests uint32 `yaml:"breaker_min_requests"`

	// BreakerOpenTimeout is how long the circuit stays open.
	// Default: 30s
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// AuditConfig contains configuration for the audit trail.
type AuditConfig struct {
	// Enabled controls whether audit events are recorded.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend selects the audit store.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains configuration for the audit database. Only Path and
	// BusyTimeout apply.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds enqueueing and a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig contains configuration for scheduled cleanup.
type RetentionConfig struct {
	// Enabled controls whether the retention scheduler runs.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// MaxAge is the age after which jobs and their artifacts are deleted.
	// Default: 720h (30 days)
	MaxAge time.Duration `yaml:"max_age"`

	// Schedule is a cron expression for retention sweeps.
	// Example: "0 3 * * *" (daily at 3 AM)
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// BatchSize is the number of jobs listed per page during a sweep.
	// Default: 100
	BatchSize int `yaml:"batch_size"`

	// CleanOrphans deletes stored artifacts no job references.
	// Default: true
	CleanOrphans *bool `yaml:"clean_orphans"`

	// AuditMaxAge is the age after which audit events are deleted.
	// 0 keeps audit events forever.
	// Default: 0
	AuditMaxAge time.Duration `yaml:"audit_max_age"`
}

// ProgressConfig contains configuration for the progress tracker.
type ProgressConfig struct {
	// RetentionWindow is how long snapshots of terminal jobs are kept in
	// memory for subscribers.
	// Default: 1h
	RetentionWindow time.Duration `yaml:"retention_window"`

	// SweepInterval is the period of the snapshot sweep.
	// Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TierConfig holds the permission facts of one access tier.
type TierConfig struct {
	// AllowedFormats lists the formats the tier may export.
	AllowedFormats []string `yaml:"allowed_formats"`

	// MaxRecords caps the records of a single export.
	MaxRecords int `yaml:"max_records"`

	// MaxBatchRecords caps the records of a batch export. 0 disables batch
	// exports for the tier.
	MaxBatchRecords int `yaml:"max_batch_records"`

	// MaxActiveJobs caps the non-terminal jobs of one user. 0 is unlimited.
	MaxActiveJobs int `yaml:"max_active_jobs"`

	// CreatesPerMinute limits job creation per user. 0 is unlimited.
	CreatesPerMinute int `yaml:"creates_per_minute"`
}

// EstimatesConfig contains the completion time model.
type EstimatesConfig struct {
	// Formats maps a format name to its duration model.
	// Default: document 30s+2s/record, data 5s+200ms/record,
	// tabular 10s+500ms/record
	Formats map[string]EstimateConfig `yaml:"formats"`

	// Default applies to formats without an entry.
	// Default: 10s+1s/record
	Default EstimateConfig `yaml:"default"`

	// BatchOverhead multiplies the estimate of batch exports.
	// Default: 1.5
	BatchOverhead float64 `yaml:"batch_overhead"`
}

// EstimateConfig is the duration model of one format.
type EstimateConfig struct {
	// Base is the fixed part of the estimate.
	Base time.Duration `yaml:"base"`

	// PerRecord is added once per record.
	PerRecord time.Duration `yaml:"per_record"`
}

// AuthConfig contains API key authentication configuration.
type AuthConfig struct {
	// Enabled controls whether API key authentication is enforced.
	// When disabled every request acts as the anonymous principal.
	// Default: false
	Enabled *bool `yaml:"enabled"`

	// Sources defines where to extract API keys from.
	// Default: Authorization Bearer header, then X-API-Key header
	Sources []APIKeySource `yaml:"sources"`

	// Keys is the list of valid API keys.
	Keys []APIKeyConfig `yaml:"keys"`

	// Anonymous is the principal used when authentication is disabled.
	Anonymous APIKeyConfig `yaml:"anonymous"`
}

// APIKeySource configures where to extract an API key from.
type APIKeySource struct {
	// Type is the source type.
	// Options: "header", "query"
	Type string `yaml:"type"`

	// Name is the header name or query parameter name.
	// Examples: "Authorization", "X-API-Key", "api_key"
	Name string `yaml:"name"`

	// Scheme is the authentication scheme for header-based extraction.
	// Example: "Bearer" (for "Authorization: Bearer <token>")
	Scheme string `yaml:"scheme,omitempty"`
}

// APIKeyConfig maps an API key to a principal.
type APIKeyConfig struct {
	// Key is the API key value.
	Key string `yaml:"key"`

	// UserID is the user identifier associated with this key.
	UserID string `yaml:"user_id"`

	// Role is the role of the user.
	// Options: "user", "admin"
	// Default: "user"
	Role string `yaml:"role"`

	// Tier is the access tier of the user.
	// Default: "basic"
	Tier string `yaml:"tier"`

	// Disabled revokes the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPatterns contains custom redaction patterns applied to log
	// attribute values in addition to the built-in API key patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern represents a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "exporter"
	Namespace string `yaml:"namespace"`

	// JobDurationBuckets defines histogram buckets for job duration (seconds).
	// Default: [0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600]
	JobDurationBuckets []float64 `yaml:"job_duration_buckets"`

	// RequestDurationBuckets defines histogram buckets for HTTP request
	// duration (seconds).
	// Default: [0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio", "parentbased_always",
	// "parentbased_never", "parentbased_ratio"
	// Default: "parentbased_ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "exporter"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// SecretsConfig configures where ${secret:name} references are resolved
// from. References may appear in artifacts.s3.access_key_id,
// artifacts.s3.secret_access_key, records.http.api_key and auth.keys[].key.
type SecretsConfig struct {
	// EnvPrefix prefixes the environment variable a secret is read from.
	// The secret "s3-key" is read from EXPORTER_SECRET_S3_KEY.
	// Default: "EXPORTER_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory of secret files, one file per secret, such as a
	// mounted Kubernetes secret. Files take precedence over the environment.
	Dir string `yaml:"dir"`

	// Watch drops cached file secrets when files in Dir change.
	// Default: false
	Watch bool `yaml:"watch"`

	// CacheTTL is how long a resolved secret is cached.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// WatchConfig controls configuration hot reload.
type WatchConfig struct {
	// Enabled reloads the configuration file when it changes. Only tier
	// limits, estimates, API keys and the log level take effect without a
	// restart.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Debounce collapses bursts of file events into one reload.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`
}

// Bool returns the value of an optional flag, or def when unset.
func Bool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
