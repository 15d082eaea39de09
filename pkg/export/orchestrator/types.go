package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// PermissionResolver supplies the permission facts of a principal. The
// engine enforces them; it never computes them.
type PermissionResolver interface {
	Permissions(ctx context.Context, principal export.Principal) (export.Permissions, error)
}

// PermissionFunc adapts a function to PermissionResolver.
type PermissionFunc func(ctx context.Context, principal export.Principal) (export.Permissions, error)

// Permissions implements PermissionResolver.
func (f PermissionFunc) Permissions(ctx context.Context, principal export.Principal) (export.Permissions, error) {
	return f(ctx, principal)
}

// Observer receives execution measurements. The telemetry metrics collector
// implements it.
type Observer interface {
	JobCreated(format export.Format, kind export.Kind)
	JobFinished(format export.Format, status export.Status, duration time.Duration)
	StageCompleted(stage string, duration time.Duration)
	ActiveJobs(n int)
}

type nopObserver struct{}

func (nopObserver) JobCreated(export.Format, export.Kind) {}
func (nopObserver) JobFinished(export.Format, export.Status, time.Duration) {}
func (nopObserver) StageCompleted(string, time.Duration) {}
func (nopObserver) ActiveJobs(int) {}

// CreateRequest is a validated-at-create export request.
type CreateRequest struct {
	Kind      export.Kind     `json:"kind"`
	Format    export.Format   `json:"format"`
	RecordIDs []string        `json:"recordIds"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	ID                  string        `json:"exportId"`
	Kind                export.Kind   `json:"kind"`
	Status              export.Status `json:"status"`
	RecordCount         int           `json:"recordCount"`
	EstimatedCompletion time.Time     `json:"estimatedCompletion"`
}

// StatusView combines the durable job with its latest progress snapshot.
type StatusView struct {
	Job      *export.Job
	Snapshot export.Snapshot
}

// Download is an open artifact stream. The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	Artifact export.Artifact
	Size     int64
}

// Estimate is the expected duration model of one format.
type Estimate struct {
	Base      time.Duration `yaml:"base"`
	PerRecord time.Duration `yaml:"per_record"`
}

// DefaultEstimates returns the built-in duration model.
func DefaultEstimates() map[export.Format]Estimate {
	return map[export.Format]Estimate{
		export.FormatDocument: {Base: 30 * time.Second, PerRecord: 2 * time.Second},
		export.FormatData:     {Base: 5 * time.Second, PerRecord: 200 * time.Millisecond},
		export.FormatTabular:  {Base: 10 * time.Second, PerRecord: 500 * time.Millisecond},
	}
}

// DefaultBatchOverhead is the multiplier applied to batch estimates.
const DefaultBatchOverhead = 1.5

// Config contains configuration for the orchestrator.
type Config struct {
	// Workers is the number of jobs executed concurrently.
	// Default: 4
	Workers int

	// QueueSize is the number of accepted jobs that may wait for a worker.
	// Default: 100
	QueueSize int

	// Estimates is the per-format duration model. Formats without an entry
	// use DefaultEstimate.
	Estimates map[export.Format]Estimate

	// DefaultEstimate applies to formats missing from Estimates.
	// Default: 10s base, 1s per record
	DefaultEstimate Estimate

	// BatchOverhead multiplies the estimate of batch jobs.
	// Default: 1.5
	BatchOverhead float64

	// HistoryLimit is the default page size of History.
	// Default: 20
	HistoryLimit int

	// MaxHistoryLimit caps the page size of History.
	// Default: 100
	MaxHistoryLimit int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       100,
		Estimates:       DefaultEstimates(),
		DefaultEstimate: Estimate{Base: 10 * time.Second, PerRecord: time.Second},
		BatchOverhead:   DefaultBatchOverhead,
		HistoryLimit:    20,
		MaxHistoryLimit: 100,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Estimates == nil {
		c.Estimates = d.Estimates
	}
	if c.DefaultEstimate == (Estimate{}) {
		c.DefaultEstimate = d.DefaultEstimate
	}
	if c.BatchOverhead <= 0 {
		c.BatchOverhead = d.BatchOverhead
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.MaxHistoryLimit <= 0 {
		c.MaxHistoryLimit = d.MaxHistoryLimit
	}
}
