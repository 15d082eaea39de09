package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/progress"
	"mercator-hq/exporter/pkg/export/worker"
)

// load returns the job if principal may access it.
func (o *Orchestrator) load(ctx context.Context, principal export.Principal, id string) (*export.Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(job.OwnerID) {
		return nil, fmt.Errorf("%w: export %s", export.ErrForbidden, id)
	}
	return job, nil
}

// Status returns the job together with its latest snapshot. The tracker is
// preferred when it agrees with the store on the status; otherwise the
// snapshot is derived from the stored job.
func (o *Orchestrator) Status(ctx context.Context, principal export.Principal, id string) (*StatusView, error) {
	job, err := o.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	snap, ok := o.tracker.Get(id)
	if !ok || snap.Status != job.Status {
		snap = job.Snapshot()
	}
	return &StatusView{Job: job, Snapshot: snap}, nil
}

// Cancel moves a job in initiating, processing or generating to cancelled.
// A running execution notices at its next checkpoint and discards its work.
func (o *Orchestrator) Cancel(ctx context.Context, principal export.Principal, id string) (*export.Job, error) {
	if _, err := o.load(ctx, principal, id); err != nil {
		return nil, err
	}

	job, err := o.store.Update(ctx, id, func(j *export.Job) error {
		if !j.Status.IsCancellable() {
			return export.NewStateError(j.ID, j.Status, "cancel")
		}
		if err := j.Transition(export.StatusCancelled, o.now().UTC()); err != nil {
			return err
		}
		j.Message = "Export cancelled"
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.tracker.Update(id, job.Snapshot())
	o.pool.Cancel(id)

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditCancelled,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: principal.UserID,
		Format:  job.Format,
		Kind:    job.Kind,
	})
	o.observer.JobFinished(job.Format, export.StatusCancelled, o.now().Sub(job.CreatedAt))

	o.logger.Info("export cancelled", "job_id", id, "actor_id", principal.UserID)
	return job, nil
}

// Retry reschedules a failed job. Progress restarts at 0 and RetryCount
// increases by one; ownership, format and records are unchanged.
func (o *Orchestrator) Retry(ctx context.Context, principal export.Principal, id string) (*export.Job, error) {
	if o.closed.Load() {
		return nil, fmt.Errorf("%w: shutting down", export.ErrOverloaded)
	}
	current, err := o.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if current.Status != export.StatusFailed {
		return nil, export.NewStateError(id, current.Status, "retry")
	}
	if o.pool.Saturated() {
		return nil, fmt.Errorf("%w: too many pending exports", export.ErrOverloaded)
	}

	job, err := o.store.Update(ctx, id, func(j *export.Job) error {
		if j.Status != export.StatusFailed {
			return export.NewStateError(j.ID, j.Status, "retry")
		}
		if err := j.Transition(export.StatusInitiating, o.now().UTC()); err != nil {
			return err
		}
		j.Progress = 0
		j.ErrorMessage = ""
		j.RetryCount++
		j.Artifact = nil
		j.Artifacts = nil
		j.Message = "Export queued for retry"
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.tracker.Reset(id, job.Snapshot())

	if err := o.submit(ctx, id); err != nil {
		o.fail(ctx, id, o.now(), fmt.Errorf("retry could not be scheduled: %w", err))
		return nil, fmt.Errorf("%w: %v", export.ErrOverloaded, err)
	}

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditRetried,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: principal.UserID,
		Format:  job.Format,
		Kind:    job.Kind,
		Detail:  map[string]string{"retryCount": fmt.Sprint(job.RetryCount)},
	})
	o.observer.JobCreated(job.Format, job.Kind)

	o.logger.Info("export retried",
		"job_id", id,
		"actor_id", principal.UserID,
		"retry_count", job.RetryCount,
	)
	return job, nil
}

// submit schedules execution of id. A previous execution of the same job
// that is still unwinding is awaited once.
func (o *Orchestrator) submit(ctx context.Context, id string) error {
	err := o.pool.Submit(id, o.task(id))
	if !errors.Is(err, worker.ErrDuplicate) {
		return err
	}
	if err := o.pool.Wait(ctx, id); err != nil {
		return err
	}
	return o.pool.Submit(id, o.task(id))
}

// Delete removes the job's artifacts and then its record. A non-terminal
// job is not cancelled; its execution finds the record gone and stores
// nothing. If an artifact cannot be deleted the record is kept.
func (o *Orchestrator) Delete(ctx context.Context, principal export.Principal, id string) error {
	job, err := o.load(ctx, principal, id)
	if err != nil {
		return err
	}

	for _, handle := range job.HandleList() {
		if err := o.storage.Delete(ctx, handle); err != nil {
			o.logger.Error("failed to delete artifact",
				"job_id", id,
				"handle", handle,
				"error", err,
			)
			return err
		}
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.tracker.Forget(id)

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditDeleted,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: principal.UserID,
		Format:  job.Format,
		Kind:    job.Kind,
		Detail:  map[string]string{"status": string(job.Status)},
	})

	if !job.Status.IsTerminal() {
		o.logger.Warn("deleted non-terminal export", "job_id", id, "status", job.Status)
	} else {
		o.logger.Info("export deleted", "job_id", id, "actor_id", principal.UserID)
	}
	return nil
}

// Download opens an artifact of a completed job. index selects one file
// of a split batch; other jobs accept index 0 only.
func (o *Orchestrator) Download(ctx context.Context, principal export.Principal, id string, index int) (*Download, error) {
	job, err := o.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if job.Status != export.StatusCompleted {
		return nil, export.NewStateError(id, job.Status, "download")
	}

	var a export.Artifact
	switch {
	case len(job.Artifacts) > 0:
		if index < 0 || index >= len(job.Artifacts) {
			return nil, export.NewValidationError("index",
				fmt.Sprintf("artifact index %d out of range, export has %d files", index, len(job.Artifacts)))
		}
		a = job.Artifacts[index]
	case job.Artifact != nil:
		if index != 0 {
			return nil, export.NewValidationError("index", fmt.Sprintf("artifact index %d out of range, export has 1 file", index))
		}
		a = *job.Artifact
	default:
		return nil, export.NewStorageError(o.storage.Backend(), "open", fmt.Errorf("completed export %s has no artifact", id))
	}

	body, info, err := o.storage.Open(ctx, a.Handle)
	if err != nil {
		return nil, err
	}
	size := a.SizeBytes
	if info != nil && info.Size > 0 {
		size = info.Size
	}

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditDownloaded,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: principal.UserID,
		Format:  job.Format,
		Kind:    job.Kind,
		Detail:  map[string]string{"fileName": a.FileName},
	})
	return &Download{Body: body, Artifact: a, Size: size}, nil
}

// Formats lists the registered formats the principal may use.
func (o *Orchestrator) Formats(ctx context.Context, principal export.Principal) ([]generator.Info, error) {
	perms, err := o.permissions.Permissions(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	all := o.generators.List()
	return slices.DeleteFunc(all, func(info generator.Info) bool {
		return !perms.AllowsFormat(info.Format)
	}), nil
}

// History returns a page of ownerID's jobs, newest first, and the total
// number of matches.
func (o *Orchestrator) History(ctx context.Context, principal export.Principal, ownerID string, query export.JobQuery) ([]*export.Job, int, error) {
	if !principal.CanAccess(ownerID) {
		return nil, 0, fmt.Errorf("%w: history of %s", export.ErrForbidden, ownerID)
	}
	if query.Status != "" && !query.Status.Valid() {
		return nil, 0, export.NewValidationError("status", fmt.Sprintf("unknown status %q", query.Status))
	}
	if query.Offset < 0 {
		return nil, 0, export.NewValidationError("offset", "offset must not be negative")
	}

	o.configMu.RLock()
	def, maxLimit := o.config.HistoryLimit, o.config.MaxHistoryLimit
	o.configMu.RUnlock()

	query.OwnerID = ownerID
	if query.Limit <= 0 {
		query.Limit = def
	}
	query.Limit = min(query.Limit, maxLimit)
	return o.store.List(ctx, &query)
}

// Stats aggregates ownerID's jobs.
func (o *Orchestrator) Stats(ctx context.Context, principal export.Principal, ownerID string) (*export.JobStats, error) {
	if !principal.CanAccess(ownerID) {
		return nil, fmt.Errorf("%w: stats of %s", export.ErrForbidden, ownerID)
	}
	return o.store.Stats(ctx, ownerID)
}

// Subscribe registers fn for the progress of job id. The current snapshot
// is delivered immediately.
func (o *Orchestrator) Subscribe(ctx context.Context, principal export.Principal, id, subscriberID string, fn progress.Subscriber) error {
	job, err := o.load(ctx, principal, id)
	if err != nil {
		return err
	}
	o.tracker.Track(id, job.Snapshot())
	o.tracker.Subscribe(id, subscriberID, fn)
	return nil
}

// Unsubscribe removes one subscription.
func (o *Orchestrator) Unsubscribe(id, subscriberID string) {
	o.tracker.Unsubscribe(id, subscriberID)
}

// UnsubscribeAll removes every subscription of subscriberID.
func (o *Orchestrator) UnsubscribeAll(subscriberID string) int {
	return o.tracker.UnsubscribeAll(subscriberID)
}

// Reconcile fails every job left non-terminal by a previous process. It
// must run before the orchestrator accepts work.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	jobs, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, stale := range jobs {
		job, err := o.store.Update(ctx, stale.ID, func(j *export.Job) error {
			if j.Status.IsTerminal() {
				return errAborted
			}
			if err := j.Transition(export.StatusFailed, o.now().UTC()); err != nil {
				return err
			}
			j.ErrorMessage = "interrupted by service restart"
			j.Message = "Export failed"
			return nil
		})
		if err != nil {
			if errors.Is(err, errAborted) || errors.Is(err, export.ErrNotFound) {
				continue
			}
			return reconciled, err
		}
		reconciled++
		o.tracker.Update(job.ID, job.Snapshot())
		o.audit.Record(ctx, &export.AuditEvent{
			Type:    export.AuditFailed,
			JobID:   job.ID,
			OwnerID: job.OwnerID,
			ActorID: job.OwnerID,
			Format:  job.Format,
			Kind:    job.Kind,
			Detail:  map[string]string{"error": job.ErrorMessage},
		})
	}

	if reconciled > 0 {
		o.logger.Warn("failed exports interrupted by restart", "count", reconciled)
	}
	return reconciled, nil
}
