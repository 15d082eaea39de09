package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/artifact"
	"mercator-hq/exporter/pkg/export/generator"
)

// errAborted is returned from Update callbacks when the job was cancelled,
// failed or deleted underneath the execution.
var errAborted = errors.New("execution aborted")

// Progress bands per stage.
const (
	progressProcessing = 5
	progressFetched    = 50
	progressGenerating = 55
	progressGenerated  = 80
	progressCompleting = 85
	progressPersisted  = 95
	progressCompleted  = 100
)

// execute drives one job from initiating to a terminal state. It never
// returns the job's own failure as an error; that is recorded on the job.
func (o *Orchestrator) execute(ctx context.Context, jobID string) error {
	started := o.now()
	ctx, span := o.tracer.Start(ctx, "export.execute",
		trace.WithAttributes(attribute.String("export.id", jobID)))
	defer span.End()

	o.observer.ActiveJobs(int(o.active.Add(1)))
	defer func() { o.observer.ActiveJobs(int(o.active.Add(-1))) }()

	job, err := o.advance(ctx, jobID, export.StatusProcessing, progressProcessing, "Retrieving records")
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}
	span.SetAttributes(
		attribute.String("export.format", string(job.Format)),
		attribute.String("export.kind", string(job.Kind)),
		attribute.Int("export.records", len(job.RecordIDs)),
	)

	stageStart := o.now()
	records, err := o.fetch(ctx, job)
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}
	o.observer.StageCompleted("fetch", o.now().Sub(stageStart))

	job, err = o.advance(ctx, jobID, export.StatusGenerating, progressGenerating,
		fmt.Sprintf("Generating %s export", job.Format))
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}

	stageStart = o.now()
	outputs, err := o.generate(ctx, job, records)
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}
	o.observer.StageCompleted("generate", o.now().Sub(stageStart))

	job, err = o.advance(ctx, jobID, export.StatusCompleting, progressCompleting, "Storing artifact")
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}

	stageStart = o.now()
	artifacts, err := o.persist(ctx, job, outputs)
	if err != nil {
		return o.stop(ctx, span, jobID, started, err)
	}
	o.observer.StageCompleted("persist", o.now().Sub(stageStart))

	job, err = o.complete(ctx, jobID, artifacts)
	if err != nil {
		o.discard(ctx, jobID, artifacts)
		return o.stop(ctx, span, jobID, started, err)
	}

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditCompleted,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: job.OwnerID,
		Format:  job.Format,
		Kind:    job.Kind,
		Detail: map[string]string{
			"artifacts": fmt.Sprint(len(artifacts)),
			"sizeBytes": fmt.Sprint(totalSize(artifacts)),
		},
	})
	duration := o.now().Sub(started)
	o.observer.JobFinished(job.Format, export.StatusCompleted, duration)
	span.SetStatus(codes.Ok, "")

	o.logger.Info("export completed",
		"job_id", job.ID,
		"format", job.Format,
		"artifacts", len(artifacts),
		"size_bytes", totalSize(artifacts),
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// stop ends an execution after err. Aborts (cancelled or deleted job) end
// quietly; anything else fails the job.
func (o *Orchestrator) stop(ctx context.Context, span trace.Span, jobID string, started time.Time, err error) error {
	if errors.Is(err, errAborted) || errors.Is(err, export.ErrNotFound) {
		span.SetAttributes(attribute.Bool("export.aborted", true))
		o.logger.Info("export execution stopped, job cancelled or removed", "job_id", jobID)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.fail(ctx, jobID, started, err)
	return err
}

// advance commits a stage transition unless the job left the execution path.
func (o *Orchestrator) advance(ctx context.Context, jobID string, to export.Status, progress int, message string) (*export.Job, error) {
	job, err := o.store.Update(ctx, jobID, func(j *export.Job) error {
		if j.Status.IsTerminal() {
			return errAborted
		}
		if err := j.Transition(to, o.now().UTC()); err != nil {
			return err
		}
		j.SetProgress(progress)
		j.Message = message
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.tracker.Update(jobID, job.Snapshot())
	return job, nil
}

// report records in-stage progress. It doubles as a cancellation check.
func (o *Orchestrator) report(ctx context.Context, jobID string, progress int, message string) error {
	job, err := o.store.Update(ctx, jobID, func(j *export.Job) error {
		if j.Status.IsTerminal() {
			return errAborted
		}
		j.SetProgress(progress)
		j.Message = message
		j.UpdatedAt = o.now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	o.tracker.Update(jobID, job.Snapshot())
	return nil
}

// fetch retrieves every record in order. The first failure aborts the job.
func (o *Orchestrator) fetch(ctx context.Context, job *export.Job) ([]*export.Record, error) {
	ctx, span := o.tracer.Start(ctx, "export.fetch",
		trace.WithAttributes(attribute.Int("export.records", len(job.RecordIDs))))
	defer span.End()

	records := make([]*export.Record, 0, len(job.RecordIDs))
	last := progressProcessing
	for i, id := range job.RecordIDs {
		record, err := o.records.Fetch(ctx, id)
		if err != nil {
			var re *export.RetrievalError
			if !errors.As(err, &re) {
				err = export.NewRetrievalError(id, err)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "record retrieval failed")
			return nil, err
		}
		records = append(records, record)

		p := progressProcessing + (progressFetched-progressProcessing)*(i+1)/len(job.RecordIDs)
		if p > last {
			last = p
			msg := fmt.Sprintf("Retrieved %d of %d records", i+1, len(job.RecordIDs))
			if err := o.report(ctx, job.ID, p, msg); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

// generate renders the records. Split batches produce one output per record.
func (o *Orchestrator) generate(ctx context.Context, job *export.Job, records []*export.Record) ([]namedOutput, error) {
	ctx, span := o.tracer.Start(ctx, "export.generate",
		trace.WithAttributes(attribute.String("export.format", string(job.Format))))
	defer span.End()

	g, ok := o.generators.Get(job.Format)
	if !ok {
		err := export.NewGenerationError(job.Format, len(records), fmt.Errorf("format no longer registered"))
		span.RecordError(err)
		return nil, err
	}

	wrap := func(err error, n int) error {
		var ge *export.GenerationError
		if !errors.As(err, &ge) {
			err = export.NewGenerationError(job.Format, n, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return err
	}

	if job.Kind == export.KindBatch && job.Options.SplitPerRecord {
		outputs := make([]namedOutput, 0, len(records))
		last := progressGenerating
		for i, record := range records {
			out, err := generator.Generate(ctx, g, []*export.Record{record}, job.Options)
			if err != nil {
				return nil, wrap(err, 1)
			}
			outputs = append(outputs, namedOutput{
				Output:   out,
				FileName: fmt.Sprintf("export-%s-%s%s", shortID(job.ID), safeName(record.ID), out.Extension),
				RecordID: record.ID,
			})

			p := progressGenerating + (progressGenerated-progressGenerating)*(i+1)/len(records)
			if p > last {
				last = p
				if err := o.report(ctx, job.ID, p, fmt.Sprintf("Generated %d of %d files", i+1, len(records))); err != nil {
					return nil, err
				}
			}
		}
		return outputs, nil
	}

	out, err := generator.Generate(ctx, g, records, job.Options)
	if err != nil {
		return nil, wrap(err, len(records))
	}
	span.SetAttributes(attribute.Int("export.size_bytes", len(out.Data)))
	return []namedOutput{{
		Output:   out,
		FileName: fmt.Sprintf("export-%s%s", shortID(job.ID), out.Extension),
	}}, nil
}

type namedOutput struct {
	*generator.Output
	FileName string
	RecordID string
}

// persist stores every output. On any failure the outputs stored so far are
// removed so no partial result survives.
func (o *Orchestrator) persist(ctx context.Context, job *export.Job, outputs []namedOutput) ([]export.Artifact, error) {
	ctx, span := o.tracer.Start(ctx, "export.persist",
		trace.WithAttributes(attribute.String("export.storage", o.storage.Backend())))
	defer span.End()

	artifacts := make([]export.Artifact, 0, len(outputs))
	last := progressCompleting
	for i, out := range outputs {
		key := artifact.Key(job.ID, out.FileName, job.CreatedAt)
		handle, err := o.storage.Put(ctx, key, out.MediaType, out.Data)
		if err != nil {
			o.discard(ctx, job.ID, artifacts)
			var se *export.StorageError
			if !errors.As(err, &se) {
				err = export.NewStorageError(o.storage.Backend(), "put", err)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "artifact persistence failed")
			return nil, err
		}
		artifacts = append(artifacts, export.Artifact{
			Handle:    handle,
			FileName:  out.FileName,
			MediaType: out.MediaType,
			SizeBytes: int64(len(out.Data)),
			RecordID:  out.RecordID,
		})

		if len(outputs) > 1 {
			p := progressCompleting + (progressPersisted-progressCompleting)*(i+1)/len(outputs)
			if p > last {
				last = p
				if err := o.report(ctx, job.ID, p, fmt.Sprintf("Stored %d of %d files", i+1, len(outputs))); err != nil {
					o.discard(ctx, job.ID, artifacts)
					return nil, err
				}
			}
		}
	}
	return artifacts, nil
}

// complete records the artifacts and moves the job to completed.
func (o *Orchestrator) complete(ctx context.Context, jobID string, artifacts []export.Artifact) (*export.Job, error) {
	job, err := o.store.Update(ctx, jobID, func(j *export.Job) error {
		if j.Status.IsTerminal() {
			return errAborted
		}
		j.SetProgress(progressCompleted)
		if err := j.Transition(export.StatusCompleted, o.now().UTC()); err != nil {
			return err
		}
		first := artifacts[0]
		j.Artifact = &first
		if len(artifacts) > 1 || artifacts[0].RecordID != "" {
			j.Artifacts = append([]export.Artifact(nil), artifacts...)
		}
		j.ErrorMessage = ""
		j.Message = "Export completed"
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.tracker.Update(jobID, job.Snapshot())
	return job, nil
}

// fail moves the job to failed with a non-empty error message. A job that
// already reached a terminal state is left alone.
func (o *Orchestrator) fail(ctx context.Context, jobID string, started time.Time, cause error) {
	ctx = context.WithoutCancel(ctx)

	message := "export failed"
	if cause != nil && cause.Error() != "" {
		message = cause.Error()
	}

	job, err := o.store.Update(ctx, jobID, func(j *export.Job) error {
		if j.Status.IsTerminal() {
			return errAborted
		}
		if err := j.Transition(export.StatusFailed, o.now().UTC()); err != nil {
			return err
		}
		j.ErrorMessage = message
		j.Message = "Export failed"
		return nil
	})
	if err != nil {
		if !errors.Is(err, errAborted) && !errors.Is(err, export.ErrNotFound) {
			o.logger.Error("failed to record export failure",
				"job_id", jobID,
				"cause", cause,
				"error", err,
			)
		}
		return
	}
	o.tracker.Update(jobID, job.Snapshot())

	o.audit.Record(ctx, &export.AuditEvent{
		Type:    export.AuditFailed,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		ActorID: job.OwnerID,
		Format:  job.Format,
		Kind:    job.Kind,
		Detail:  map[string]string{"error": message},
	})
	if started.IsZero() {
		started = job.CreatedAt
	}
	o.observer.JobFinished(job.Format, export.StatusFailed, o.now().Sub(started))

	o.logger.Warn("export failed",
		"job_id", job.ID,
		"format", job.Format,
		"retry_count", job.RetryCount,
		"error", message,
	)
}

// discard removes stored artifacts of an aborted execution.
func (o *Orchestrator) discard(ctx context.Context, jobID string, artifacts []export.Artifact) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range artifacts {
		if err := o.storage.Delete(ctx, a.Handle); err != nil {
			o.logger.Error("failed to discard artifact",
				"job_id", jobID,
				"handle", a.Handle,
				"error", err,
			)
		}
	}
	if len(artifacts) > 0 {
		o.logger.Info("discarded artifacts of aborted export", "job_id", jobID, "count", len(artifacts))
	}
}

func totalSize(artifacts []export.Artifact) int64 {
	var n int64
	for _, a := range artifacts {
		n += a.SizeBytes
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// safeName keeps record identifiers usable as file name components.
func safeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "record"
	}
	return string(out)
}
