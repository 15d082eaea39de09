package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/artifact"
)

// Principal is the identity retention deletions are performed and audited as.
var Principal = export.Principal{UserID: "system:retention", Role: export.RoleAdmin}

// Deleter removes a job together with its artifacts. The orchestrator
// implements it, so retention shares the user-facing deletion path.
type Deleter interface {
	Delete(ctx context.Context, principal export.Principal, id string) error
}

// AuditPruner removes audit events older than a cutoff.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config contains configuration for the retention sweeper.
type Config struct {
	// MaxAge is the age after which jobs are deleted. 0 keeps jobs forever.
	// Default: 720h (30 days)
	MaxAge time.Duration

	// Schedule is a cron expression for scheduled sweeps. Empty disables
	// the scheduler; Sweep can still be called directly.
	// Default: "0 3 * * *" (daily at 3 AM)
	Schedule string

	// BatchSize is the number of jobs listed per page.
	// Default: 100
	BatchSize int

	// CleanOrphans deletes stored artifacts older than MaxAge that no job
	// references.
	// Default: true
	CleanOrphans bool

	// AuditMaxAge is the age after which audit events are deleted. 0 keeps
	// audit events forever.
	// Default: 0
	AuditMaxAge time.Duration
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAge:       30 * 24 * time.Hour,
		Schedule:     "0 3 * * *",
		BatchSize:    100,
		CleanOrphans: true,
	}
}

// Result reports the outcome of one sweep.
type Result struct {
	Scanned     int           `json:"scanned"`
	Deleted     int           `json:"deleted"`
	Failed      int           `json:"failed"`
	Orphans     int           `json:"orphans"`
	AuditPruned int64         `json:"auditPruned"`
	Duration    time.Duration `json:"duration"`
}

// Sweeper deletes jobs older than the configured age.
type Sweeper struct {
	jobs     export.Store
	deleter  Deleter
	storage  export.ArtifactStorage
	audit    AuditPruner
	config   *Config
	onResult func(*Result)
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a new retention sweeper. storage may be nil, which
// disables orphan cleanup.
func NewSweeper(jobs export.Store, deleter Deleter, storage export.ArtifactStorage, config *Config) *Sweeper {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}

	return &Sweeper{
		jobs:    jobs,
		deleter: deleter,
		storage: storage,
		config:  config,
		now:     time.Now,
		logger:  slog.Default().With("component", "export.retention"),
	}
}

// SetAuditStore enables audit pruning against a.
func (s *Sweeper) SetAuditStore(a AuditPruner) {
	s.audit = a
}

// OnResult registers a callback invoked after every sweep.
func (s *Sweeper) OnResult(fn func(*Result)) {
	s.onResult = fn
}

// Config returns the sweeper configuration.
func (s *Sweeper) Config() *Config {
	return s.config
}

// Sweep runs one retention pass.
//
// The pass runs in three phases:
//  1. Jobs created before now-MaxAge are deleted through the Deleter. A
//     failure is counted and the sweep moves on.
//  2. If CleanOrphans is set, artifacts older than the cutoff that no job
//     references are deleted.
//  3. If AuditMaxAge is set, older audit events are deleted.
//
// An error is returned only when a phase cannot run at all.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	start := s.now()
	result := &Result{}
	defer func() {
		result.Duration = s.now().Sub(start)
		if s.onResult != nil {
			s.onResult(result)
		}
	}()

	if s.config.MaxAge > 0 {
		cutoff := start.Add(-s.config.MaxAge)
		if err := s.sweepJobs(ctx, cutoff, result); err != nil {
			return result, fmt.Errorf("sweep jobs: %w", err)
		}
		if s.config.CleanOrphans && s.storage != nil {
			if err := s.sweepOrphans(ctx, cutoff, result); err != nil {
				return result, fmt.Errorf("sweep orphaned artifacts: %w", err)
			}
		}
	}

	if s.config.AuditMaxAge > 0 && s.audit != nil {
		n, err := s.audit.DeleteBefore(ctx, start.Add(-s.config.AuditMaxAge))
		if err != nil {
			return result, fmt.Errorf("prune audit events: %w", err)
		}
		result.AuditPruned = n
	}

	if result.Scanned == 0 && result.Orphans == 0 && result.AuditPruned == 0 {
		s.logger.Debug("retention sweep found nothing to delete", "max_age", s.config.MaxAge)
	} else {
		s.logger.Info("retention sweep completed",
			"scanned", result.Scanned,
			"deleted", result.Deleted,
			"failed", result.Failed,
			"orphans", result.Orphans,
			"audit_pruned", result.AuditPruned,
		)
	}
	return result, nil
}

// sweepJobs pages through expired jobs oldest first. Jobs that fail to
// delete stay listed, so paging stops once a page yields nothing new.
func (s *Sweeper) sweepJobs(ctx context.Context, cutoff time.Time, result *Result) error {
	failed := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := s.config.BatchSize + len(failed)
		page, err := s.jobs.ListOlderThan(ctx, cutoff, limit)
		if err != nil {
			return err
		}

		progressed := false
		for _, job := range page {
			if failed[job.ID] {
				continue
			}
			result.Scanned++

			err := s.deleter.Delete(ctx, Principal, job.ID)
			switch {
			case err == nil:
				result.Deleted++
				progressed = true
			case errors.Is(err, export.ErrNotFound):
				// Removed concurrently.
				progressed = true
			default:
				result.Failed++
				failed[job.ID] = true
				s.logger.Warn("failed to delete expired export",
					"job_id", job.ID,
					"created_at", job.CreatedAt,
					"error", err,
				)
			}
		}

		if !progressed || len(page) < limit {
			return nil
		}
	}
}

// sweepOrphans deletes old artifacts whose job is gone or no longer
// references them. Artifacts of non-terminal jobs are left alone.
func (s *Sweeper) sweepOrphans(ctx context.Context, cutoff time.Time, result *Result) error {
	objects, err := s.storage.ListOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		jobID, ok := artifact.JobIDFromKey(obj.Handle)
		if !ok {
			s.logger.Debug("skipping artifact with unrecognized key", "handle", obj.Handle)
			continue
		}

		job, err := s.jobs.Get(ctx, jobID)
		switch {
		case errors.Is(err, export.ErrNotFound):
		case err != nil:
			return err
		case !job.Status.IsTerminal() || slices.Contains(job.HandleList(), obj.Handle):
			continue
		}

		if err := s.storage.Delete(ctx, obj.Handle); err != nil {
			s.logger.Warn("failed to delete orphaned artifact", "handle", obj.Handle, "error", err)
			continue
		}
		result.Orphans++
	}
	return nil
}
