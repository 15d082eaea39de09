package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/audit"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/progress"
	"mercator-hq/exporter/pkg/export/worker"
)

// Dependencies are the collaborators of the orchestrator. Store, Records,
// Storage, Generators and Permissions are required.
type Dependencies struct {
	Store       export.Store
	Records     export.RecordSource
	Storage     export.ArtifactStorage
	Generators  *generator.Registry
	Permissions PermissionResolver

	// Audit defaults to a sink that discards events.
	Audit export.AuditSink

	// Tracker defaults to a tracker with default retention.
	Tracker *progress.Tracker

	// Observer defaults to a no-op.
	Observer Observer

	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
}

// Orchestrator validates export requests, persists jobs and drives their
// execution through the state machine on a bounded worker pool.
//
// # Concurrency
//
// Every mutation of an existing job goes through Store.Update, which runs
// its callback with exclusive access to that job. Execution re-checks the
// status inside each Update before committing a stage transition; a job
// cancelled or deleted underneath the execution is never advanced, and any
// artifact already stored for it is removed. No lock is held while waiting
// on the record source, a generator or the artifact storage.
type Orchestrator struct {
	store       export.Store
	records     export.RecordSource
	storage     export.ArtifactStorage
	generators  *generator.Registry
	permissions PermissionResolver
	audit       export.AuditSink
	tracker     *progress.Tracker
	observer    Observer
	tracer      trace.Tracer

	pool    *worker.Pool
	limiter *createLimiter

	config   Config
	configMu sync.RWMutex

	active atomic.Int64
	closed atomic.Bool

	now    func() time.Time
	logger *slog.Logger
}

// New creates an orchestrator and starts its worker pool.
func New(deps Dependencies, config Config) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Records == nil:
		return nil, errors.New("orchestrator: record source is required")
	case deps.Storage == nil:
		return nil, errors.New("orchestrator: artifact storage is required")
	case deps.Generators == nil:
		return nil, errors.New("orchestrator: generator registry is required")
	case deps.Permissions == nil:
		return nil, errors.New("orchestrator: permission resolver is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker(progress.DefaultConfig())
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("exporter")
	}
	config.applyDefaults()

	o := &Orchestrator{
		store:       deps.Store,
		records:     deps.Records,
		storage:     deps.Storage,
		generators:  deps.Generators,
		permissions: deps.Permissions,
		audit:       deps.Audit,
		tracker:     deps.Tracker,
		observer:    deps.Observer,
		tracer:      deps.Tracer,
		pool:        worker.NewPool(worker.Config{Workers: config.Workers, QueueSize: config.QueueSize}),
		limiter:     newCreateLimiter(),
		config:      config,
		now:         time.Now,
		logger:      slog.Default().With("component", "export.orchestrator"),
	}
	o.pool.OnPanic(o.recoverTask)

	o.logger.Info("export orchestrator initialized",
		"workers", config.Workers,
		"queue_size", config.QueueSize,
		"formats", len(deps.Generators.List()),
		"storage", deps.Storage.Backend(),
	)
	return o, nil
}

// Tracker returns the progress tracker used by the orchestrator.
func (o *Orchestrator) Tracker() *progress.Tracker {
	return o.tracker
}

// PoolStats returns the occupancy of the worker pool.
func (o *Orchestrator) PoolStats() worker.Stats {
	return o.pool.Stats()
}

// Saturated reports whether new jobs would currently be rejected.
func (o *Orchestrator) Saturated() bool {
	return o.pool.Saturated()
}

// SetEstimates replaces the duration model. Used by config hot reload.
func (o *Orchestrator) SetEstimates(estimates map[export.Format]Estimate, batchOverhead float64) {
	o.configMu.Lock()
	defer o.configMu.Unlock()

	if estimates != nil {
		o.config.Estimates = estimates
	}
	if batchOverhead > 0 {
		o.config.BatchOverhead = batchOverhead
	}
}

// Estimate returns the expected duration of a job: the per-format base plus
// a per-record term, multiplied by the batch overhead for batch jobs.
func (o *Orchestrator) Estimate(format export.Format, kind export.Kind, records int) time.Duration {
	o.configMu.RLock()
	est, ok := o.config.Estimates[format]
	if !ok {
		est = o.config.DefaultEstimate
	}
	overhead := o.config.BatchOverhead
	o.configMu.RUnlock()

	d := est.Base + time.Duration(records)*est.PerRecord
	if kind == export.KindBatch {
		d = time.Duration(float64(d) * overhead)
	}
	return d
}

// Create validates req for principal, persists a new job in initiating and
// schedules its execution.
//
// Validation runs in a fixed order and stops at the first violation:
// kind, registered format, non-empty record list, batch tier, record cap,
// allowed formats, batch support, options, active-job quota. Violations are
// returned as *export.ValidationError. Rate limiting and admission control
// follow and return errors wrapping export.ErrRateLimited and
// export.ErrOverloaded. No job exists after any rejection.
func (o *Orchestrator) Create(ctx context.Context, principal export.Principal, req *CreateRequest) (*CreateResult, error) {
	if o.closed.Load() {
		return nil, fmt.Errorf("%w: shutting down", export.ErrOverloaded)
	}

	perms, err := o.permissions.Permissions(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}

	kind := req.Kind
	if kind == "" {
		kind = export.KindSingle
	}
	opts, err := o.validate(ctx, principal, perms, kind, req)
	if err != nil {
		o.logger.Debug("export request rejected",
			"owner_id", principal.UserID,
			"format", req.Format,
			"kind", kind,
			"error", err,
		)
		return nil, err
	}

	now := o.now().UTC()
	if !o.limiter.allow(principal.UserID, perms.CreatesPerMinute, now) {
		return nil, fmt.Errorf("%w: at most %d exports per minute", export.ErrRateLimited, perms.CreatesPerMinute)
	}
	if o.pool.Saturated() {
		return nil, fmt.Errorf("%w: too many pending exports", export.ErrOverloaded)
	}

	job := &export.Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Format:    req.Format,
		OwnerID:   principal.UserID,
		RecordIDs: append([]string(nil), req.RecordIDs...),
		Options:   opts,
		Status:    export.StatusInitiating,
		Message:   "Export queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}
	o.tracker.Update(job.ID, job.Snapshot())

	if err := o.pool.Submit(job.ID, o.task(job.ID)); err != nil {
		// Lost the admission race: undo so no job survives the rejection.
		if delErr := o.store.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			o.logger.Error("failed to remove unscheduled job", "job_id", job.ID, "error", delErr)
		}
		o.tracker.Forget(job.ID)
		return nil, fmt.Errorf("%w: %v", export.ErrOverloaded, err)
	}

	o.audit.Record(ctx, &export.AuditEvent{
		Type:      export.AuditInitiated,
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		ActorID:   principal.UserID,
		Format:    job.Format,
		Kind:      job.Kind,
		Detail:    map[string]string{"recordCount": fmt.Sprint(len(job.RecordIDs))},
		Timestamp: job.CreatedAt,
	})
	o.observer.JobCreated(job.Format, job.Kind)

	estimate := o.Estimate(job.Format, job.Kind, len(job.RecordIDs))
	o.logger.Info("export created",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"format", job.Format,
		"kind", job.Kind,
		"records", len(job.RecordIDs),
		"estimate", estimate,
	)

	return &CreateResult{
		ID:                  job.ID,
		Kind:                job.Kind,
		Status:              job.Status,
		RecordCount:         len(job.RecordIDs),
		EstimatedCompletion: now.Add(estimate),
	}, nil
}

func (o *Orchestrator) validate(ctx context.Context, principal export.Principal, perms export.Permissions, kind export.Kind, req *CreateRequest) (export.Options, error) {
	if kind != export.KindSingle && kind != export.KindBatch {
		return export.Options{}, export.NewValidationError("kind", fmt.Sprintf("unknown export kind %q", kind))
	}

	g, ok := o.generators.Get(req.Format)
	if !ok {
		return export.Options{}, export.NewValidationError("format", fmt.Sprintf("unsupported format %q", req.Format))
	}

	if len(req.RecordIDs) == 0 {
		return export.Options{}, export.NewValidationError("recordIds", "at least one record identifier is required")
	}
	for i, id := range req.RecordIDs {
		if strings.TrimSpace(id) == "" {
			return export.Options{}, export.NewValidationError("recordIds", fmt.Sprintf("record identifier at position %d is empty", i))
		}
	}

	if kind == export.KindBatch && !perms.AllowsBatch() {
		return export.Options{}, export.NewValidationError("kind", fmt.Sprintf("batch exports are not available for the %s tier", perms.Tier))
	}

	if limit := perms.RecordLimit(kind); len(req.RecordIDs) > limit {
		return export.Options{}, export.NewValidationError("recordIds",
			fmt.Sprintf("%d records exceeds the %s export limit of %d", len(req.RecordIDs), kind, limit))
	}

	if !perms.AllowsFormat(req.Format) {
		return export.Options{}, export.NewValidationError("format", fmt.Sprintf("format %q is not permitted", req.Format))
	}

	if kind == export.KindBatch && !g.Info().SupportsBatch {
		return export.Options{}, export.NewValidationError("format", fmt.Sprintf("format %q does not support batch exports", req.Format))
	}

	opts, err := g.ParseOptions(req.Options)
	if err != nil {
		return export.Options{}, err
	}
	if opts.SplitPerRecord && kind != export.KindBatch {
		return export.Options{}, export.NewValidationError("options", "splitPerRecord applies to batch exports only")
	}

	if perms.MaxActiveJobs > 0 {
		active, err := o.store.CountActive(ctx, principal.UserID)
		if err != nil {
			return export.Options{}, err
		}
		if active >= perms.MaxActiveJobs {
			return export.Options{}, &export.ValidationError{
				Field:  "quota",
				Reason: fmt.Sprintf("%d active exports, limit is %d", active, perms.MaxActiveJobs),
				Cause:  export.ErrQuotaExceeded,
			}
		}
	}

	return opts, nil
}

// task wraps execute for the worker pool.
func (o *Orchestrator) task(jobID string) worker.Task {
	return func(ctx context.Context) error {
		return o.execute(ctx, jobID)
	}
}

// recoverTask fails a job whose execution panicked.
func (o *Orchestrator) recoverTask(jobID string, recovered any) {
	o.fail(context.Background(), jobID, time.Time{}, fmt.Errorf("internal error: %v", recovered))
}

// Shutdown stops accepting jobs and waits for running executions. If ctx
// expires first, running executions are cancelled; their jobs stay
// non-terminal and are failed by Reconcile on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	o.logger.Info("export orchestrator shutting down", "active", o.active.Load())
	return o.pool.Shutdown(ctx)
}
