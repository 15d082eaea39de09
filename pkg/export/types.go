package export

import (
	"context"
	"io"
	"slices"
	"time"
)

// Kind distinguishes single-record exports from batch exports.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// Format is the key of a registered generator.
type Format string

const (
	FormatDocument Format = "document"
	FormatData     Format = "data"
	FormatTabular  Format = "tabular"
)

// Status is the state of an export job.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusProcessing Status = "processing"
	StatusGenerating Status = "generating"
	StatusCompleting Status = "completing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusInitiating,
	StatusProcessing,
	StatusGenerating,
	StatusCompleting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions can occur from s,
// except for a retry out of failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsCancellable reports whether a job in status s may be cancelled.
func (s Status) IsCancellable() bool {
	return s == StatusInitiating || s == StatusProcessing || s == StatusGenerating
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// transitions lists the allowed successor states of each status.
var transitions = map[Status][]Status{
	StatusInitiating: {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusGenerating, StatusCancelled, StatusFailed},
	StatusGenerating: {StatusCompleting, StatusCancelled, StatusFailed},
	StatusCompleting: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusInitiating},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Artifact describes a finished, durably stored export file.
type Artifact struct {
	Handle    string `json:"handle"`
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	SizeBytes int64  `json:"sizeBytes"`
	RecordID  string `json:"recordId,omitempty"` // set for per-record batch artifacts
}

// Job is one tracked export request.
type Job struct {
	// Identity
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Format  Format `json:"format"`
	OwnerID string `json:"ownerId"`

	// Input
	RecordIDs []string `json:"recordIds"`
	Options   Options  `json:"options"`

	// State
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	RetryCount   int    `json:"retryCount"`

	// Result
	Artifact  *Artifact  `json:"artifact,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"` // per-record batch results

	// Timestamps
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.RecordIDs = slices.Clone(j.RecordIDs)
	c.Options = j.Options.Clone()
	if j.Artifact != nil {
		a := *j.Artifact
		c.Artifact = &a
	}
	c.Artifacts = slices.Clone(j.Artifacts)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Transition moves the job to status to, stamping UpdatedAt and, on the
// first terminal transition, CompletedAt.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return NewStateError(j.ID, j.Status, string(to))
	}
	j.Status = to
	j.UpdatedAt = now
	if to.IsTerminal() && j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// SetProgress raises the progress value, never lowering it while the job is
// not terminal. Values are clamped to 0..100.
func (j *Job) SetProgress(p int) {
	if j.Status.IsTerminal() {
		return
	}
	p = max(0, min(100, p))
	if p > j.Progress {
		j.Progress = p
	}
}

// HandleList returns the storage handles of every artifact the job holds.
func (j *Job) HandleList() []string {
	var handles []string
	seen := make(map[string]bool)
	if j.Artifact != nil && j.Artifact.Handle != "" {
		handles = append(handles, j.Artifact.Handle)
		seen[j.Artifact.Handle] = true
	}
	for _, a := range j.Artifacts {
		if a.Handle != "" && !seen[a.Handle] {
			handles = append(handles, a.Handle)
			seen[a.Handle] = true
		}
	}
	return handles
}

// Snapshot derives the current progress snapshot of the job.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		Timestamp: j.UpdatedAt,
		Attempt:   j.RetryCount,
	}
}

// Snapshot is the latest known progress of a job, used for fast reads and
// push delivery. It is never persisted on its own.
type Snapshot struct {
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Attempt is the RetryCount of the job when the snapshot was taken.
	// Snapshots from an earlier attempt are stale.
	Attempt int `json:"-"`
}

// Record is a normalized analysis record fetched from the detection store.
type Record struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	Verdict    string            `json:"verdict"`
	Score      float64           `json:"score"`
	AnalyzedAt time.Time         `json:"analyzedAt"`
	Findings   []Finding         `json:"findings,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Finding is a single detection inside an analysis record.
type Finding struct {
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// JobQuery filters job listings.
type JobQuery struct {
	OwnerID string
	Status  Status
	Kind    Kind
	Format  Format

	// Pagination
	Limit  int
	Offset int
}

// JobStats aggregates the jobs of one owner.
type JobStats struct {
	OwnerID        string         `json:"ownerId"`
	Total          int            `json:"total"`
	ByStatus       map[Status]int `json:"byStatus"`
	ByFormat       map[Format]int `json:"byFormat"`
	ByKind         map[Kind]int   `json:"byKind"`
	TotalRetries   int            `json:"totalRetries"`
	TotalBytes     int64          `json:"totalBytes"`
	LastCreatedAt  *time.Time     `json:"lastCreatedAt,omitempty"`
	LastFinishedAt *time.Time     `json:"lastFinishedAt,omitempty"`
}

// NewJobStats returns empty stats for owner.
func NewJobStats(ownerID string) *JobStats {
	return &JobStats{
		OwnerID:  ownerID,
		ByStatus: make(map[Status]int),
		ByFormat: make(map[Format]int),
		ByKind:   make(map[Kind]int),
	}
}

// Add folds one job into the stats.
func (s *JobStats) Add(j *Job) {
	s.Total++
	s.ByStatus[j.Status]++
	s.ByFormat[j.Format]++
	s.ByKind[j.Kind]++
	s.TotalRetries += j.RetryCount
	if j.Status == StatusCompleted {
		if len(j.Artifacts) > 0 {
			for _, a := range j.Artifacts {
				s.TotalBytes += a.SizeBytes
			}
		} else if j.Artifact != nil {
			s.TotalBytes += j.Artifact.SizeBytes
		}
	}
	if s.LastCreatedAt == nil || j.CreatedAt.After(*s.LastCreatedAt) {
		t := j.CreatedAt
		s.LastCreatedAt = &t
	}
	if j.CompletedAt != nil && (s.LastFinishedAt == nil || j.CompletedAt.After(*s.LastFinishedAt)) {
		t := *j.CompletedAt
		s.LastFinishedAt = &t
	}
}

// Store is the durable record of every job. Implementations must be safe for
// concurrent use; Update is the only mutation path for existing jobs and runs
// its callback with exclusive access to that job.
type Store interface {
	// Create persists a new job. It fails if the ID already exists.
	Create(ctx context.Context, job *Job) error

	// Get returns a copy of the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update atomically loads the job, applies fn and persists the result.
	// If fn returns an error nothing is written and that error is returned.
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)

	// Delete removes the job record or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns jobs matching the query, newest first, plus the total
	// number of matches ignoring pagination.
	List(ctx context.Context, query *JobQuery) ([]*Job, int, error)

	// Stats aggregates the jobs of one owner.
	Stats(ctx context.Context, ownerID string) (*JobStats, error)

	// ListOlderThan returns up to limit jobs created before cutoff, oldest first.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)

	// ListActive returns every job that is not in a terminal state.
	ListActive(ctx context.Context) ([]*Job, error)

	// CountActive counts the non-terminal jobs of one owner.
	CountActive(ctx context.Context, ownerID string) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// RecordSource fetches analysis records from the external detection store.
type RecordSource interface {
	// Fetch returns the record or an error wrapping ErrRecordNotFound when
	// the record does not exist.
	Fetch(ctx context.Context, id string) (*Record, error)
}

// ObjectInfo describes a stored artifact object.
type ObjectInfo struct {
	Handle    string
	Size      int64
	MediaType string
	ModTime   time.Time
}

// ArtifactStorage persists finished artifacts and hands back retrievable
// handles.
type ArtifactStorage interface {
	// Put stores data under key and returns its handle.
	Put(ctx context.Context, key, mediaType string, data []byte) (string, error)

	// Open returns a reader over the stored artifact.
	Open(ctx context.Context, handle string) (io.ReadCloser, *ObjectInfo, error)

	// Delete removes the artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, handle string) error

	// ListOlderThan enumerates artifacts last modified before cutoff.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]ObjectInfo, error)

	// Backend names the storage engine ("filesystem", "s3", "memory").
	Backend() string
}

// AuditEventType names an externally visible job transition.
type AuditEventType string

const (
	AuditInitiated  AuditEventType = "initiated"
	AuditCompleted  AuditEventType = "completed"
	AuditFailed     AuditEventType = "failed"
	AuditDownloaded AuditEventType = "downloaded"
	AuditCancelled  AuditEventType = "cancelled"
	AuditRetried    AuditEventType = "retried"
	AuditDeleted    AuditEventType = "deleted"
)

// AuditEvent is one immutable audit entry.
type AuditEvent struct {
	ID        string            `json:"id"`
	Type      AuditEventType    `json:"type"`
	JobID     string            `json:"jobId"`
	OwnerID   string            `json:"ownerId"`
	ActorID   string            `json:"actorId"`
	Format    Format            `json:"format,omitempty"`
	Kind      Kind              `json:"kind,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditSink accepts audit events. Record must not block the caller on I/O.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent)
}
