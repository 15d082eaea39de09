package server

import (
	"context"
	"fmt"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/artifact"
	"mercator-hq/exporter/pkg/export/audit"
	"mercator-hq/exporter/pkg/export/jobstore"
	"mercator-hq/exporter/pkg/export/orchestrator"
	"mercator-hq/exporter/pkg/export/records"
	"mercator-hq/exporter/pkg/export/retention"
	"mercator-hq/exporter/pkg/telemetry/health"
)

// JobStore is the job store together with its lifecycle.
type JobStore interface {
	export.Store
	health.Pinger
	Close() error
}

// OpenJobStore opens the configured job store.
func OpenJobStore(cfg *config.StoreConfig) (JobStore, error) {
	switch cfg.Backend {
	case "memory":
		return jobstore.NewMemoryStore(), nil
	case "sqlite", "":
		store, err := jobstore.NewSQLiteStore(&jobstore.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      config.Bool(cfg.SQLite.WALMode, true),
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown job store backend %q", cfg.Backend)
	}
}

// OpenAuditStore opens the configured audit store. It returns nil when the
// audit trail is disabled.
func OpenAuditStore(cfg *config.AuditConfig) (audit.Store, error) {
	if !config.Bool(cfg.Enabled, true) {
		return nil, nil
	}
	switch cfg.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite", "":
		store, err := audit.NewSQLiteStore(audit.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

// Storage is artifact storage that can be health checked.
type Storage interface {
	export.ArtifactStorage
	health.Pinger
}

// OpenArtifactStorage opens the configured artifact backend.
func OpenArtifactStorage(ctx context.Context, cfg *config.ArtifactsConfig) (Storage, error) {
	switch cfg.Backend {
	case "memory":
		return artifact.NewMemoryStorage(), nil
	case "filesystem", "":
		return artifact.NewFileStorage(cfg.Path)
	case "s3":
		return artifact.NewObjectStorage(ctx, &artifact.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			UseSSL:          config.Bool(cfg.S3.UseSSL, true),
		})
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// OpenRecordSource opens the configured record source. The returned check
// reports the health of remote sources and is nil for local ones.
func OpenRecordSource(cfg *config.RecordsConfig) (export.RecordSource, health.CheckFunc, error) {
	switch cfg.Source {
	case "sample", "":
		return records.NewMemorySource(records.SampleRecords()...), nil, nil
	case "file":
		src, err := records.LoadFile(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case "http":
		src, err := records.NewHTTPSource(&records.HTTPConfig{
			BaseURL:             cfg.HTTP.BaseURL,
			APIKey:              cfg.HTTP.APIKey,
			Timeout:             cfg.HTTP.Timeout,
			MaxRetries:          cfg.HTTP.MaxRetries,
			BreakerFailureRatio: cfg.HTTP.BreakerFailureRatio,
			BreakerMinRequests:  cfg.HTTP.BreakerMinRequests,
			BreakerOpenTimeout:  cfg.HTTP.BreakerOpenTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, health.BreakerCheck("records", src.State), nil
	default:
		return nil, nil, fmt.Errorf("unknown record source %q", cfg.Source)
	}
}

// OrchestratorConfig converts the jobs and estimates sections.
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Workers:         cfg.Jobs.Workers,
		QueueSize:       cfg.Jobs.QueueSize,
		Estimates:       Estimates(&cfg.Estimates),
		DefaultEstimate: orchestrator.Estimate(cfg.Estimates.Default),
		BatchOverhead:   cfg.Estimates.BatchOverhead,
		HistoryLimit:    cfg.Jobs.HistoryLimit,
		MaxHistoryLimit: cfg.Jobs.MaxHistoryLimit,
	}
}

// Estimates converts the configured duration model.
func Estimates(cfg *config.EstimatesConfig) map[export.Format]orchestrator.Estimate {
	if len(cfg.Formats) == 0 {
		return nil
	}
	out := make(map[export.Format]orchestrator.Estimate, len(cfg.Formats))
	for name, e := range cfg.Formats {
		out[export.Format(name)] = orchestrator.Estimate(e)
	}
	return out
}

// RetentionConfig converts the retention section.
func RetentionConfig(cfg *config.RetentionConfig) *retention.Config {
	schedule := cfg.Schedule
	if !config.Bool(cfg.Enabled, true) {
		schedule = ""
	}
	return &retention.Config{
		MaxAge:       cfg.MaxAge,
		Schedule:     schedule,
		BatchSize:    cfg.BatchSize,
		CleanOrphans: config.Bool(cfg.CleanOrphans, true),
		AuditMaxAge:  cfg.AuditMaxAge,
	}
}

// AuditRecorderConfig converts the audit section.
func AuditRecorderConfig(cfg *config.AuditConfig) *audit.Config {
	return &audit.Config{
		Enabled:      config.Bool(cfg.Enabled, true),
		AsyncBuffer:  cfg.AsyncBuffer,
		WriteTimeout: cfg.WriteTimeout,
	}
}
