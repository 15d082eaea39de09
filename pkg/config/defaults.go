package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 1048576 // 1MB

	// CORS defaults
	DefaultCORSMaxAge = 3600 // 1 hour

	// TLS defaults
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute

	// WebSocket defaults
	DefaultWebSocketPath             = "/ws/exports"
	DefaultWebSocketPingInterval     = 30 * time.Second
	DefaultWebSocketPongTimeout      = 60 * time.Second
	DefaultWebSocketSendBuffer       = 64
	DefaultWebSocketMaxSubscriptions = 100

	// Job defaults
	DefaultJobWorkers         = 4
	DefaultJobQueueSize       = 100
	DefaultJobHistoryLimit    = 20
	DefaultJobMaxHistoryLimit = 100
	DefaultReconcileOnStart   = true

	// Store defaults
	DefaultStoreBackend      = "sqlite"
	DefaultStoreSQLitePath   = "data/jobs.db"
	DefaultSQLiteMaxOpenConn = 10
	DefaultSQLiteMaxIdleConn = 5
	DefaultSQLiteWALMode     = true
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Artifact defaults
	DefaultArtifactsBackend = "filesystem"
	DefaultArtifactsPath    = "data/artifacts"
	DefaultS3Region         = "us-east-1"
	DefaultS3Prefix         = "exports/"
	DefaultS3UseSSL         = true

	// Record source defaults
	DefaultRecordsSource              = "sample"
	DefaultRecordsTimeout             = 10 * time.Second
	DefaultRecordsMaxRetries          = 3
	DefaultRecordsBreakerFailureRatio = 0.6
	DefaultRecordsBreakerMinRequests  = 5
	DefaultRecordsBreakerOpenTimeout  = 30 * time.Second

	// Audit defaults
	DefaultAuditEnabled      = true
	DefaultAuditBackend      = "sqlite"
	DefaultAuditSQLitePath   = "data/audit.db"
	DefaultAuditAsyncBuffer  = 1000
	DefaultAuditWriteTimeout = 5 * time.Second

	// Retention defaults
	DefaultRetentionEnabled      = true
	DefaultRetentionMaxAge       = 30 * 24 * time.Hour
	DefaultRetentionSchedule     = "0 3 * * *"
	DefaultRetentionBatchSize    = 100
	DefaultRetentionCleanOrphans = true

	// Progress defaults
	DefaultProgressRetentionWindow = time.Hour
	DefaultProgressSweepInterval   = 5 * time.Minute

	// Estimate defaults
	DefaultBatchOverhead = 1.5

	// Auth defaults
	DefaultAuthEnabled   = false
	DefaultAnonymousUser = "anonymous"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "exporter"
	DefaultTracingSampler     = "parentbased_ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "exporter"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultVersionPath        = "/version"
	DefaultHealthCheckTimeout = 5 * time.Second

	// Watch defaults
	DefaultWatchDebounce = 500 * time.Millisecond

	// Secrets defaults
	DefaultSecretsEnvPrefix = "EXPORTER_SECRET_"
	DefaultSecretsCacheTTL  = 5 * time.Minute
)

// DefaultJobDurationBuckets are the histogram buckets of export job
// durations, in seconds.
var DefaultJobDurationBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// DefaultRequestDurationBuckets are the histogram buckets of HTTP request
// durations, in seconds.
var DefaultRequestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// DefaultTiers returns the built-in permission table. Basic users export
// small single data or tabular files; batch exports start at standard.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"basic": {
			AllowedFormats:   []string{"data", "tabular"},
			MaxRecords:       10,
			MaxBatchRecords:  0,
			MaxActiveJobs:    2,
			CreatesPerMinute: 5,
		},
		"standard": {
			AllowedFormats:   []string{"document", "data", "tabular"},
			MaxRecords:       25,
			MaxBatchRecords:  100,
			MaxActiveJobs:    5,
			CreatesPerMinute: 10,
		},
		"premium": {
			AllowedFormats:   []string{"document", "data", "tabular"},
			MaxRecords:       50,
			MaxBatchRecords:  500,
			MaxActiveJobs:    10,
			CreatesPerMinute: 30,
		},
		"enterprise": {
			AllowedFormats:   []string{"document", "data", "tabular"},
			MaxRecords:       100,
			MaxBatchRecords:  1000,
			MaxActiveJobs:    0,
			CreatesPerMinute: 0,
		},
	}
}

// DefaultEstimateFormats returns the built-in duration model per format.
func DefaultEstimateFormats() map[string]EstimateConfig {
	return map[string]EstimateConfig{
		"document": {Base: 30 * time.Second, PerRecord: 2 * time.Second},
		"data":     {Base: 5 * time.Second, PerRecord: 200 * time.Millisecond},
		"tabular":  {Base: 10 * time.Second, PerRecord: 500 * time.Millisecond},
	}
}

// ApplyDefaults applies default values to a configuration.
// It only sets values that are zero or empty, preserving explicitly set values.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)

	// Job defaults
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = DefaultJobWorkers
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = DefaultJobQueueSize
	}
	if cfg.Jobs.HistoryLimit == 0 {
		cfg.Jobs.HistoryLimit = DefaultJobHistoryLimit
	}
	if cfg.Jobs.MaxHistoryLimit == 0 {
		cfg.Jobs.MaxHistoryLimit = DefaultJobMaxHistoryLimit
	}
	if cfg.Jobs.ReconcileOnStart == nil {
		cfg.Jobs.ReconcileOnStart = boolPtr(DefaultReconcileOnStart)
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	applySQLiteDefaults(&cfg.Store.SQLite, DefaultStoreSQLitePath)

	// Artifact defaults
	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = DefaultArtifactsBackend
	}
	if cfg.Artifacts.Path == "" {
		cfg.Artifacts.Path = DefaultArtifactsPath
	}
	if cfg.Artifacts.S3.Region == "" {
		cfg.Artifacts.S3.Region = DefaultS3Region
	}
	if cfg.Artifacts.S3.Prefix == "" {
		cfg.Artifacts.S3.Prefix = DefaultS3Prefix
	}
	if cfg.Artifacts.S3.UseSSL == nil {
		cfg.Artifacts.S3.UseSSL = boolPtr(DefaultS3UseSSL)
	}

	// Record source defaults
	if cfg.Records.Source == "" {
		cfg.Records.Source = DefaultRecordsSource
	}
	h := &cfg.Records.HTTP
	if h.Timeout == 0 {
		h.Timeout = DefaultRecordsTimeout
	}
	if h.MaxRetries == 0 {
		h.MaxRetries = DefaultRecordsMaxRetries
	}
	if h.BreakerFailureRatio == 0 {
		h.BreakerFailureRatio = DefaultRecordsBreakerFailureRatio
	}
	if h.BreakerMinRequests == 0 {
		h.BreakerMinRequests = DefaultRecordsBreakerMinRequests
	}
	if h.BreakerOpenTimeout == 0 {
		h.BreakerOpenTimeout = DefaultRecordsBreakerOpenTimeout
	}

	// Audit defaults
	if cfg.Audit.Enabled == nil {
		cfg.Audit.Enabled = boolPtr(DefaultAuditEnabled)
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	applySQLiteDefaults(&cfg.Audit.SQLite, DefaultAuditSQLitePath)
	if cfg.Audit.AsyncBuffer == 0 {
		cfg.Audit.AsyncBuffer = DefaultAuditAsyncBuffer
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}

	// Retention defaults
	r := &cfg.Retention
	if r.Enabled == nil {
		r.Enabled = boolPtr(DefaultRetentionEnabled)
	}
	if r.MaxAge == 0 {
		r.MaxAge = DefaultRetentionMaxAge
	}
	if r.Schedule == "" {
		r.Schedule = DefaultRetentionSchedule
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultRetentionBatchSize
	}
	if r.CleanOrphans == nil {
		r.CleanOrphans = boolPtr(DefaultRetentionCleanOrphans)
	}

	// Progress defaults
	if cfg.Progress.RetentionWindow == 0 {
		cfg.Progress.RetentionWindow = DefaultProgressRetentionWindow
	}
	if cfg.Progress.SweepInterval == 0 {
		cfg.Progress.SweepInterval = DefaultProgressSweepInterval
	}

	// Tier defaults: a missing table gets the built-in one; configured
	// tables are taken as given.
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	// Estimate defaults
	if cfg.Estimates.Formats == nil {
		cfg.Estimates.Formats = DefaultEstimateFormats()
	}
	if cfg.Estimates.Default == (EstimateConfig{}) {
		cfg.Estimates.Default = EstimateConfig{Base: 10 * time.Second, PerRecord: time.Second}
	}
	if cfg.Estimates.BatchOverhead == 0 {
		cfg.Estimates.BatchOverhead = DefaultBatchOverhead
	}

	applyAuthDefaults(&cfg.Auth)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// CORS lists are only filled in when CORS is on.
	if s.CORS.Enabled {
		if len(s.CORS.AllowedOrigins) == 0 {
			s.CORS.AllowedOrigins = []string{"*"}
		}
		if len(s.CORS.AllowedMethods) == 0 {
			s.CORS.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		}
		if len(s.CORS.AllowedHeaders) == 0 {
			s.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"}
		}
		if len(s.CORS.ExposedHeaders) == 0 {
			s.CORS.ExposedHeaders = []string{"Content-Disposition", "X-Request-ID"}
		}
		if s.CORS.MaxAge == 0 {
			s.CORS.MaxAge = DefaultCORSMaxAge
		}
	}

	if s.TLS.Enabled {
		if s.TLS.MinVersion == "" {
			s.TLS.MinVersion = DefaultTLSMinVersion
		}
		if s.TLS.ReloadInterval == 0 {
			s.TLS.ReloadInterval = DefaultTLSReloadInterval
		}
	}

	ws := &s.WebSocket
	if ws.Path == "" {
		ws.Path = DefaultWebSocketPath
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = DefaultWebSocketPingInterval
	}
	if ws.PongTimeout == 0 {
		ws.PongTimeout = DefaultWebSocketPongTimeout
	}
	if ws.SendBuffer == 0 {
		ws.SendBuffer = DefaultWebSocketSendBuffer
	}
	if ws.MaxSubscriptions == 0 {
		ws.MaxSubscriptions = DefaultWebSocketMaxSubscriptions
	}
}

func applySQLiteDefaults(s *SQLiteConfig, path string) {
	if s.Path == "" {
		s.Path = path
	}
	if s.MaxOpenConns == 0 {
		s.MaxOpenConns = DefaultSQLiteMaxOpenConn
	}
	if s.MaxIdleConns == 0 {
		s.MaxIdleConns = DefaultSQLiteMaxIdleConn
	}
	if s.WALMode == nil {
		s.WALMode = boolPtr(DefaultSQLiteWALMode)
	}
	if s.BusyTimeout == 0 {
		s.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}

func applyAuthDefaults(a *AuthConfig) {
	if a.Enabled == nil {
		a.Enabled = boolPtr(DefaultAuthEnabled)
	}
	if len(a.Sources) == 0 {
		a.Sources = []APIKeySource{
			{Type: "header", Name: "Authorization", Scheme: "Bearer"},
			{Type: "header", Name: "X-API-Key"},
		}
	}
	for i := range a.Keys {
		if a.Keys[i].Role == "" {
			a.Keys[i].Role = "user"
		}
		if a.Keys[i].Tier == "" {
			a.Keys[i].Tier = "basic"
		}
	}
	if a.Anonymous.UserID == "" {
		a.Anonymous.UserID = DefaultAnonymousUser
	}
	if a.Anonymous.Role == "" {
		a.Anonymous.Role = "user"
	}
	if a.Anonymous.Tier == "" {
		a.Anonymous.Tier = "basic"
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Enabled == nil {
		t.Metrics.Enabled = boolPtr(DefaultMetricsEnabled)
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.JobDurationBuckets) == 0 {
		t.Metrics.JobDurationBuckets = append([]float64(nil), DefaultJobDurationBuckets...)
	}
	if len(t.Metrics.RequestDurationBuckets) == 0 {
		t.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}

	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.VersionPath == "" {
		t.Health.VersionPath = DefaultVersionPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
