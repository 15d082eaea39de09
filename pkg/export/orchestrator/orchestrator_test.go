package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/artifact"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/jobstore"
	"mercator-hq/exporter/pkg/export/records"
)

var (
	owner = export.Principal{UserID: "user-1", Role: export.RoleUser, Tier: export.TierPremium}
	other = export.Principal{UserID: "user-2", Role: export.RoleUser, Tier: export.TierPremium}
	admin = export.Principal{UserID: "root", Role: export.RoleAdmin, Tier: export.TierEnterprise}
	basic = export.Principal{UserID: "user-3", Role: export.RoleUser, Tier: export.TierBasic}
)

var allFormats = []export.Format{export.FormatDocument, export.FormatData, export.FormatTabular}

func tierPermissions(limits export.Permissions) PermissionFunc {
	return func(ctx context.Context, p export.Principal) (export.Permissions, error) {
		if p.Tier == export.TierBasic {
			return export.Permissions{
				Tier:           export.TierBasic,
				AllowedFormats: []export.Format{export.FormatData},
				MaxRecords:     10,
			}, nil
		}
		perms := limits
		perms.Tier = p.Tier
		return perms, nil
	}
}

func premiumLimits() export.Permissions {
	return export.Permissions{
		AllowedFormats:  allFormats,
		MaxRecords:      50,
		MaxBatchRecords: 500,
	}
}

// recordingSink collects audit events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []*export.AuditEvent
}

func (s *recordingSink) Record(ctx context.Context, event *export.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types(jobID string) []export.AuditEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []export.AuditEventType
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e.Type)
		}
	}
	return out
}

// blockingSource holds every Fetch until release is closed or the context
// is cancelled.
type blockingSource struct {
	inner   export.RecordSource
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newBlockingSource(inner export.RecordSource) *blockingSource {
	return &blockingSource{inner: inner, release: make(chan struct{}), started: make(chan struct{})}
}

func (s *blockingSource) Fetch(ctx context.Context, id string) (*export.Record, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return s.inner.Fetch(ctx, id)
	case <-ctx.Done():
		return nil, export.NewRetrievalError(id, ctx.Err())
	}
}

// panicGenerator panics while rendering.
type panicGenerator struct{}

func (panicGenerator) Info() generator.Info {
	return generator.Info{Format: "boom", MediaType: "text/plain", Extension: ".txt", SupportsBatch: true}
}

func (panicGenerator) ParseOptions(raw json.RawMessage) (export.Options, error) {
	return export.Options{}, nil
}

func (panicGenerator) Export(ctx context.Context, recs []*export.Record, opts export.Options, w io.Writer) error {
	panic("renderer exploded")
}

// gatedGenerator renders JSON once release is closed. It ignores its
// context, like a renderer that cannot be interrupted.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedGenerator) Info() generator.Info {
	return generator.Info{Format: "gated", MediaType: "application/json", Extension: ".json", SupportsBatch: true}
}

func (g *gatedGenerator) ParseOptions(raw json.RawMessage) (export.Options, error) {
	return export.Options{}, nil
}

func (g *gatedGenerator) Export(ctx context.Context, recs []*export.Record, opts export.Options, w io.Writer) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	_, err := fmt.Fprintf(w, `{"records":%d}`, len(recs))
	return err
}

// pausingStore holds the first write that leaves a job failed until
// release is closed, after the write has been applied.
type pausingStore struct {
	export.Store
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingStore(inner export.Store) *pausingStore {
	return &pausingStore{Store: inner, paused: make(chan struct{}), release: make(chan struct{})}
}

func (s *pausingStore) Update(ctx context.Context, id string, fn func(*export.Job) error) (*export.Job, error) {
	job, err := s.Store.Update(ctx, id, fn)
	if err == nil && job.Status == export.StatusFailed {
		s.once.Do(func() {
			close(s.paused)
			<-s.release
		})
	}
	return job, err
}

type fixture struct {
	o       *Orchestrator
	store   *jobstore.MemoryStore
	storage *artifact.MemoryStorage
	source  *records.MemorySource
	audit   *recordingSink
}

type fixtureOptions struct {
	limits    export.Permissions
	source    export.RecordSource
	registry  *generator.Registry
	config    Config
	wrapStore func(export.Store) export.Store
}

func newFixture(t *testing.T, mutate ...func(*fixtureOptions)) *fixture {
	t.Helper()

	f := &fixture{
		store:   jobstore.NewMemoryStore(),
		storage: artifact.NewMemoryStorage(),
		source:  records.NewMemorySource(records.SampleRecords()...),
		audit:   &recordingSink{},
	}
	opts := fixtureOptions{
		limits:   premiumLimits(),
		source:   f.source,
		registry: generator.NewDefaultRegistry(),
		config:   DefaultConfig(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	var store export.Store = f.store
	if opts.wrapStore != nil {
		store = opts.wrapStore(f.store)
	}

	o, err := New(Dependencies{
		Store:       store,
		Records:     opts.source,
		Storage:     f.storage,
		Generators:  opts.registry,
		Permissions: tierPermissions(opts.limits),
		Audit:       f.audit,
	}, opts.config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.o = o

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return f
}

// waitTerminal polls until the job is terminal and its task has returned.
func (f *fixture) waitTerminal(t *testing.T, id string) *export.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		job, err := f.store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", id, err)
		}
		if job.Status.IsTerminal() {
			if err := f.o.pool.Wait(ctx, id); err != nil {
				t.Fatalf("Wait(%s) failed: %v", id, err)
			}
			job, err = f.store.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get(%s) failed: %v", id, err)
			}
			return job
		}
		select {
		case <-ctx.Done():
			t.Fatalf("job %s stuck in %s", id, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fixture) create(t *testing.T, p export.Principal, req *CreateRequest) *CreateResult {
	t.Helper()
	res, err := f.o.Create(context.Background(), p, req)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return res
}

func TestCreate_DataExportCompletes(t *testing.T) {
	f := newFixture(t)

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	if res.Status != export.StatusInitiating {
		t.Errorf("Create() status = %s, want %s", res.Status, export.StatusInitiating)
	}
	if res.Kind != export.KindSingle {
		t.Errorf("Create() kind = %s, want %s", res.Kind, export.KindSingle)
	}
	if !res.EstimatedCompletion.After(time.Now().Add(-time.Minute)) {
		t.Errorf("Create() estimatedCompletion = %v, want a future time", res.EstimatedCompletion)
	}

	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.ErrorMessage)
	}
	if job.Artifact == nil {
		t.Fatal("completed job has no artifact")
	}
	if job.Artifact.MediaType != "application/json" {
		t.Errorf("artifact media type = %q, want application/json", job.Artifact.MediaType)
	}
	if job.Artifact.SizeBytes <= 0 {
		t.Errorf("artifact size = %d, want > 0", job.Artifact.SizeBytes)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if job.ErrorMessage != "" {
		t.Errorf("errorMessage = %q, want empty", job.ErrorMessage)
	}

	got := f.audit.types(res.ID)
	if len(got) != 2 || !containsType(got, export.AuditInitiated) || !containsType(got, export.AuditCompleted) {
		t.Errorf("audit events = %v, want initiated and completed", got)
	}

	dl, err := f.o.Download(context.Background(), owner, res.ID, 0)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	defer dl.Body.Close()
	body, _ := io.ReadAll(dl.Body)
	if int64(len(body)) != dl.Size {
		t.Errorf("Download() read %d bytes, size %d", len(body), dl.Size)
	}
	if !strings.Contains(string(body), "a1") {
		t.Error("downloaded data does not mention record a1")
	}
}

func TestCreate_MissingRecordFails(t *testing.T) {
	f := newFixture(t)

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"missing-1"}})
	job := f.waitTerminal(t, res.ID)

	if job.Status != export.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "retrieval") {
		t.Errorf("errorMessage = %q, want mention of retrieval", job.ErrorMessage)
	}
	if job.Artifact != nil {
		t.Error("failed job has an artifact")
	}
	if f.storage.Len() != 0 {
		t.Errorf("storage holds %d objects, want 0", f.storage.Len())
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	ids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("r%d", i)
		}
		return out
	}

	tests := []struct {
		name      string
		principal export.Principal
		req       CreateRequest
		field     string
	}{
		{"unknown format", owner, CreateRequest{Format: "pdf", RecordIDs: []string{"a1"}}, "format"},
		{"unknown kind", owner, CreateRequest{Kind: "bulk", Format: export.FormatData, RecordIDs: []string{"a1"}}, "kind"},
		{"empty records", owner, CreateRequest{Format: export.FormatData}, "recordIds"},
		{"blank record id", owner, CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1", " "}}, "recordIds"},
		{"single cap", owner, CreateRequest{Format: export.FormatData, RecordIDs: ids(51)}, "recordIds"},
		{"batch cap", owner, CreateRequest{Kind: export.KindBatch, Format: export.FormatData, RecordIDs: ids(501)}, "recordIds"},
		{"basic tier batch", basic, CreateRequest{Kind: export.KindBatch, Format: export.FormatData, RecordIDs: []string{"a1"}}, "kind"},
		{"format not allowed", basic, CreateRequest{Format: export.FormatTabular, RecordIDs: []string{"a1"}}, "format"},
		{"unknown option", owner, CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}, Options: json.RawMessage(`{"colour":"red"}`)}, "options"},
		{"split on single", owner, CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}, Options: json.RawMessage(`{"splitPerRecord":true}`)}, "options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.o.Create(context.Background(), tt.principal, &tt.req)
			if err == nil {
				t.Fatalf("Create() = %+v, want validation error", res)
			}
			var ve *export.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Create() error = %v, want *export.ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	_, total, err := f.store.List(context.Background(), &export.JobQuery{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 0 {
		t.Errorf("rejected requests created %d jobs, want 0", total)
	}
}

func TestCreate_BatchAtCapAccepted(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = []string{"a1", "a2", "a3"}[i%3]
	}

	res := f.create(t, owner, &CreateRequest{Kind: export.KindBatch, Format: export.FormatTabular, RecordIDs: ids})
	if res.RecordCount != 500 {
		t.Errorf("RecordCount = %d, want 500", res.RecordCount)
	}
	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCompleted {
		t.Errorf("status = %s, want completed (error %q)", job.Status, job.ErrorMessage)
	}
}

func TestCancel_ImmediatelyAfterCreate(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})

	job, err := f.o.Cancel(context.Background(), owner, res.ID)
	if err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if job.Status != export.StatusCancelled {
		t.Errorf("Cancel() status = %s, want cancelled", job.Status)
	}
	close(src.release)

	job = f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCancelled {
		t.Errorf("final status = %s, want cancelled", job.Status)
	}
	if job.Artifact != nil || f.storage.Len() != 0 {
		t.Error("cancelled job left an artifact behind")
	}
	if job.ErrorMessage != "" {
		t.Errorf("errorMessage = %q, want empty", job.ErrorMessage)
	}

	if _, err := f.o.Cancel(context.Background(), owner, res.ID); !errors.Is(err, export.ErrInvalidState) {
		t.Errorf("Cancel() twice error = %v, want ErrInvalidState", err)
	}
}

func TestCancel_WhileProcessing(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1", "a2"}})
	<-src.started
	if job, _ := f.store.Get(ctx, res.ID); job.Status != export.StatusProcessing {
		t.Fatalf("status before cancel = %s, want processing", job.Status)
	}

	if _, err := f.o.Cancel(ctx, owner, res.ID); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	close(src.release)

	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCancelled {
		t.Errorf("final status = %s, want cancelled", job.Status)
	}
	if job.Artifact != nil || f.storage.Len() != 0 {
		t.Error("cancelled job left an artifact behind")
	}
	if types := f.audit.types(res.ID); containsType(types, export.AuditFailed) {
		t.Errorf("audit events = %v, cancelled job recorded as failed", types)
	}
}

func TestCancel_WhileGenerating(t *testing.T) {
	gen := newGatedGenerator()
	f := newFixture(t, func(o *fixtureOptions) {
		o.registry = generator.NewRegistry(generator.NewDataGenerator(), gen)
		o.limits.AllowedFormats = append(o.limits.AllowedFormats, "gated")
	})
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: "gated", RecordIDs: []string{"a1"}})
	<-gen.started
	if job, _ := f.store.Get(ctx, res.ID); job.Status != export.StatusGenerating {
		t.Fatalf("status before cancel = %s, want generating", job.Status)
	}

	if _, err := f.o.Cancel(ctx, owner, res.ID); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	// The renderer finishes after the cancel; its output must be discarded.
	close(gen.release)

	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCancelled {
		t.Errorf("final status = %s, want cancelled", job.Status)
	}
	if job.Artifact != nil {
		t.Errorf("artifact = %+v, want none", job.Artifact)
	}
	if n := f.storage.Len(); n != 0 {
		t.Errorf("storage holds %d objects, want 0", n)
	}
	if snap, _ := f.o.tracker.Get(res.ID); snap.Status != export.StatusCancelled {
		t.Errorf("tracked status = %s, want cancelled", snap.Status)
	}
	if types := f.audit.types(res.ID); containsType(types, export.AuditCompleted) {
		t.Errorf("audit events = %v, cancelled job recorded as completed", types)
	}
}

func TestCancel_Forbidden(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })
	defer close(src.release)

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	if _, err := f.o.Cancel(context.Background(), other, res.ID); !errors.Is(err, export.ErrForbidden) {
		t.Errorf("Cancel() by other error = %v, want ErrForbidden", err)
	}
	if _, err := f.o.Cancel(context.Background(), admin, res.ID); err != nil {
		t.Errorf("Cancel() by admin failed: %v", err)
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"late-1"}})
	if job := f.waitTerminal(t, res.ID); job.Status != export.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}

	f.source.Put(&export.Record{ID: "late-1", Title: "Arrived late", Verdict: "clean"})

	job, err := f.o.Retry(ctx, owner, res.ID)
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if job.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", job.RetryCount)
	}
	if job.Progress != 0 {
		t.Errorf("Progress = %d, want 0", job.Progress)
	}
	if job.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", job.ErrorMessage)
	}

	job = f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCompleted {
		t.Fatalf("status after retry = %s, want completed (error %q)", job.Status, job.ErrorMessage)
	}

	// Retrying a completed job is rejected and changes nothing.
	if _, err := f.o.Retry(ctx, owner, res.ID); !errors.Is(err, export.ErrInvalidState) {
		t.Errorf("Retry() on completed error = %v, want ErrInvalidState", err)
	}
	after, _ := f.store.Get(ctx, res.ID)
	if after.Status != export.StatusCompleted || after.RetryCount != 1 {
		t.Errorf("job after rejected retry = %s/%d, want completed/1", after.Status, after.RetryCount)
	}

	types := f.audit.types(res.ID)
	if !containsType(types, export.AuditRetried) {
		t.Errorf("audit events = %v, want retried", types)
	}
}

func TestRetry_BeforeFailureIsTracked(t *testing.T) {
	var store *pausingStore
	f := newFixture(t, func(o *fixtureOptions) {
		o.wrapStore = func(inner export.Store) export.Store {
			store = newPausingStore(inner)
			return store
		}
	})
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"late-2"}})
	// The failure is in the store but not yet in the tracker.
	<-store.paused

	var mu sync.Mutex
	var seen []export.Snapshot
	err := f.o.Subscribe(ctx, owner, res.ID, "sub-1", func(jobID string, s export.Snapshot) error {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	f.source.Put(&export.Record{ID: "late-2", Title: "Arrived late", Verdict: "clean"})
	retried := make(chan error, 1)
	go func() {
		_, err := f.o.Retry(ctx, owner, res.ID)
		retried <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if snap, _ := f.o.tracker.Get(res.ID); snap.Attempt == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry never reached the tracker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(store.release)

	if err := <-retried; err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCompleted {
		t.Fatalf("store status = %s, want completed", job.Status)
	}

	snap, _ := f.o.tracker.Get(res.ID)
	if snap.Status != export.StatusCompleted || snap.Progress != 100 {
		t.Errorf("tracked snapshot = %s/%d, want completed/100", snap.Status, snap.Progress)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s.Status == export.StatusFailed {
			t.Errorf("subscriber received the superseded failure %+v", s)
		}
	}
	if last := seen[len(seen)-1]; last.Status != export.StatusCompleted {
		t.Errorf("last delivered status = %s, want completed", last.Status)
	}
}

func containsType(types []export.AuditEventType, want export.AuditEventType) bool {
	for _, tt := range types {
		if tt == want {
			return true
		}
	}
	return false
}

func TestSplitBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{
		Kind:      export.KindBatch,
		Format:    export.FormatTabular,
		RecordIDs: []string{"a1", "a2", "a3"},
		Options:   json.RawMessage(`{"splitPerRecord":true}`),
	})
	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.ErrorMessage)
	}
	if len(job.Artifacts) != 3 {
		t.Fatalf("len(Artifacts) = %d, want 3", len(job.Artifacts))
	}
	if f.storage.Len() != 3 {
		t.Errorf("storage holds %d objects, want 3", f.storage.Len())
	}
	for i, a := range job.Artifacts {
		if a.RecordID != job.RecordIDs[i] {
			t.Errorf("Artifacts[%d].RecordID = %q, want %q", i, a.RecordID, job.RecordIDs[i])
		}
	}

	dl, err := f.o.Download(ctx, owner, res.ID, 1)
	if err != nil {
		t.Fatalf("Download(1) failed: %v", err)
	}
	dl.Body.Close()
	if dl.Artifact.RecordID != "a2" {
		t.Errorf("Download(1) record = %q, want a2", dl.Artifact.RecordID)
	}

	var ve *export.ValidationError
	if _, err := f.o.Download(ctx, owner, res.ID, 3); !errors.As(err, &ve) {
		t.Errorf("Download(3) error = %v, want validation error", err)
	}
}

func TestDownload_NotCompleted(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })
	defer close(src.release)

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	if _, err := f.o.Download(context.Background(), owner, res.ID, 0); !errors.Is(err, export.ErrInvalidState) {
		t.Errorf("Download() error = %v, want ErrInvalidState", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: export.FormatDocument, RecordIDs: []string{"a1", "a2"}})
	f.waitTerminal(t, res.ID)

	if err := f.o.Delete(ctx, other, res.ID); !errors.Is(err, export.ErrForbidden) {
		t.Errorf("Delete() by other error = %v, want ErrForbidden", err)
	}
	if err := f.o.Delete(ctx, owner, res.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if f.storage.Len() != 0 {
		t.Errorf("storage holds %d objects after delete, want 0", f.storage.Len())
	}
	if _, err := f.o.Status(ctx, owner, res.ID); !errors.Is(err, export.ErrNotFound) {
		t.Errorf("Status() after delete error = %v, want ErrNotFound", err)
	}
	if !containsType(f.audit.types(res.ID), export.AuditDeleted) {
		t.Error("no deleted audit event")
	}
}

func TestDelete_ActiveJobStoresNothing(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })
	ctx := context.Background()

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	<-src.started
	if err := f.o.Delete(ctx, owner, res.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	close(src.release)

	if err := f.o.pool.Wait(ctx, res.ID); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if f.storage.Len() != 0 {
		t.Errorf("storage holds %d objects, want 0", f.storage.Len())
	}
}

func TestPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.FailPut = errors.New("disk full")

	res := f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "disk full") {
		t.Errorf("errorMessage = %q, want storage cause", job.ErrorMessage)
	}
	if job.Artifact != nil {
		t.Error("failed job has an artifact")
	}
}

func TestGeneratorPanicFailsJob(t *testing.T) {
	f := newFixture(t, func(o *fixtureOptions) {
		o.registry = generator.NewRegistry(generator.NewDataGenerator(), panicGenerator{})
		o.limits.AllowedFormats = append(o.limits.AllowedFormats, "boom")
	})

	res := f.create(t, owner, &CreateRequest{Format: "boom", RecordIDs: []string{"a1"}})
	job := f.waitTerminal(t, res.ID)
	if job.Status != export.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "renderer exploded") {
		t.Errorf("errorMessage = %q, want panic value", job.ErrorMessage)
	}
}

func TestQuotaAndRateLimit(t *testing.T) {
	t.Run("active quota", func(t *testing.T) {
		src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
		f := newFixture(t, func(o *fixtureOptions) {
			o.source = src
			o.limits.MaxActiveJobs = 1
		})
		defer close(src.release)

		f.create(t, owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
		_, err := f.o.Create(context.Background(), owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a2"}})
		if !errors.Is(err, export.ErrQuotaExceeded) {
			t.Errorf("Create() error = %v, want ErrQuotaExceeded", err)
		}
		// Other owners are unaffected.
		f.create(t, other, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a2"}})
	})

	t.Run("create rate", func(t *testing.T) {
		f := newFixture(t, func(o *fixtureOptions) { o.limits.CreatesPerMinute = 2 })
		req := &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}}

		f.create(t, owner, req)
		f.create(t, owner, req)
		if _, err := f.o.Create(context.Background(), owner, req); !errors.Is(err, export.ErrRateLimited) {
			t.Errorf("third Create() error = %v, want ErrRateLimited", err)
		}
		f.create(t, other, req)
	})
}

func TestCreate_Overloaded(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) {
		o.source = src
		o.config.Workers = 1
		o.config.QueueSize = 1
	})
	defer close(src.release)

	req := &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}}
	f.create(t, owner, req)
	<-src.started
	f.create(t, owner, req)

	if _, err := f.o.Create(context.Background(), owner, req); !errors.Is(err, export.ErrOverloaded) {
		t.Fatalf("Create() error = %v, want ErrOverloaded", err)
	}
	_, total, _ := f.store.List(context.Background(), &export.JobQuery{OwnerID: owner.UserID})
	if total != 2 {
		t.Errorf("jobs = %d, want 2", total)
	}
}

func TestSubscribe_ProgressIsMonotonic(t *testing.T) {
	src := newBlockingSource(records.NewMemorySource(records.SampleRecords()...))
	f := newFixture(t, func(o *fixtureOptions) { o.source = src })

	var mu sync.Mutex
	var seen []export.Snapshot
	res := f.create(t, owner, &CreateRequest{Kind: export.KindBatch, Format: export.FormatData, RecordIDs: []string{"a1", "a2", "a3"}})
	<-src.started

	err := f.o.Subscribe(context.Background(), owner, res.ID, "sub-1", func(jobID string, s export.Snapshot) error {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	close(src.release)
	f.waitTerminal(t, res.ID)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("received %d snapshots, want at least 2", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Progress < seen[i-1].Progress {
			t.Errorf("progress decreased: %d -> %d", seen[i-1].Progress, seen[i].Progress)
		}
	}
	last := seen[len(seen)-1]
	if last.Status != export.StatusCompleted || last.Progress != 100 {
		t.Errorf("last snapshot = %s/%d, want completed/100", last.Status, last.Progress)
	}

	if err := f.o.Subscribe(context.Background(), other, res.ID, "sub-2", func(string, export.Snapshot) error { return nil }); !errors.Is(err, export.ErrForbidden) {
		t.Errorf("Subscribe() by other error = %v, want ErrForbidden", err)
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, status := range []export.Status{export.StatusProcessing, export.StatusInitiating, export.StatusCompleted} {
		job := &export.Job{
			ID:        fmt.Sprintf("stale-%d", i),
			Kind:      export.KindSingle,
			Format:    export.FormatData,
			OwnerID:   owner.UserID,
			RecordIDs: []string{"a1"},
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := f.store.Create(ctx, job); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	n, err := f.o.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Reconcile() = %d, want 2", n)
	}
	job, _ := f.store.Get(ctx, "stale-0")
	if job.Status != export.StatusFailed || job.ErrorMessage != "interrupted by service restart" {
		t.Errorf("stale-0 = %s/%q, want failed with restart message", job.Status, job.ErrorMessage)
	}
	if job, _ := f.store.Get(ctx, "stale-2"); job.Status != export.StatusCompleted {
		t.Errorf("stale-2 status = %s, want completed", job.Status)
	}
}

func TestHistoryStatsAndFormats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, format := range allFormats {
		res := f.create(t, owner, &CreateRequest{Format: format, RecordIDs: []string{"a1"}})
		f.waitTerminal(t, res.ID)
	}

	jobs, total, err := f.o.History(ctx, owner, owner.UserID, export.JobQuery{Limit: 2})
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if total != 3 || len(jobs) != 2 {
		t.Errorf("History() = %d jobs of %d, want 2 of 3", len(jobs), total)
	}
	if _, _, err := f.o.History(ctx, other, owner.UserID, export.JobQuery{}); !errors.Is(err, export.ErrForbidden) {
		t.Errorf("History() by other error = %v, want ErrForbidden", err)
	}
	if _, _, err := f.o.History(ctx, admin, owner.UserID, export.JobQuery{}); err != nil {
		t.Errorf("History() by admin failed: %v", err)
	}

	stats, err := f.o.Stats(ctx, owner, owner.UserID)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[export.StatusCompleted] != 3 {
		t.Errorf("Stats() = %+v, want 3 completed", stats)
	}

	formats, err := f.o.Formats(ctx, basic)
	if err != nil {
		t.Fatalf("Formats() failed: %v", err)
	}
	if len(formats) != 1 || formats[0].Format != export.FormatData {
		t.Errorf("Formats(basic) = %v, want only data", formats)
	}
}

func TestEstimate(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		format  export.Format
		kind    export.Kind
		records int
		want    time.Duration
	}{
		{export.FormatData, export.KindSingle, 1, 5*time.Second + 200*time.Millisecond},
		{export.FormatDocument, export.KindSingle, 2, 34 * time.Second},
		{export.FormatData, export.KindBatch, 10, time.Duration(float64(7*time.Second) * 1.5)},
		{"unregistered", export.KindSingle, 3, 13 * time.Second},
	}
	for _, tt := range tests {
		if got := f.o.Estimate(tt.format, tt.kind, tt.records); got != tt.want {
			t.Errorf("Estimate(%s, %s, %d) = %v, want %v", tt.format, tt.kind, tt.records, got, tt.want)
		}
	}

	f.o.SetEstimates(map[export.Format]Estimate{export.FormatData: {Base: time.Second}}, 2)
	if got := f.o.Estimate(export.FormatData, export.KindBatch, 5); got != 2*time.Second {
		t.Errorf("Estimate() after SetEstimates = %v, want 2s", got)
	}
}

func TestShutdownRejectsCreate(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	_, err := f.o.Create(context.Background(), owner, &CreateRequest{Format: export.FormatData, RecordIDs: []string{"a1"}})
	if !errors.Is(err, export.ErrOverloaded) {
		t.Errorf("Create() after shutdown error = %v, want ErrOverloaded", err)
	}
}
