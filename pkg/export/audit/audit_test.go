package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/export"
)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
			if err != nil {
				t.Fatalf("NewSQLiteStore() failed: %v", err)
			}
			return s
		},
	}
}

func event(id string, typ export.AuditEventType, jobID, owner string, ts time.Time) *export.AuditEvent {
	return &export.AuditEvent{
		ID:        id,
		Type:      typ,
		JobID:     jobID,
		OwnerID:   owner,
		ActorID:   owner,
		Format:    export.FormatData,
		Kind:      export.KindSingle,
		Timestamp: ts,
	}
}

func TestStore_AppendAndQuery(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			events := []*export.AuditEvent{
				event("e1", export.AuditInitiated, "job-1", "user-1", base),
				event("e2", export.AuditCompleted, "job-1", "user-1", base.Add(time.Minute)),
				event("e3", export.AuditDownloaded, "job-1", "user-1", base.Add(2*time.Minute)),
				event("e4", export.AuditInitiated, "job-2", "user-2", base.Add(3*time.Minute)),
			}
			events[2].Detail = map[string]string{"index": "0"}
			for _, e := range events {
				if err := s.Append(ctx, e); err != nil {
					t.Fatalf("Append() failed: %v", err)
				}
			}

			tests := []struct {
				name    string
				query   *Query
				wantIDs []string
			}{
				{"all newest first", nil, []string{"e4", "e3", "e2", "e1"}},
				{"by job", &Query{JobID: "job-1"}, []string{"e3", "e2", "e1"}},
				{"by owner", &Query{OwnerID: "user-2"}, []string{"e4"}},
				{"by type", &Query{Types: []export.AuditEventType{export.AuditInitiated}}, []string{"e4", "e1"}},
				{"time range", &Query{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)}, []string{"e3", "e2"}},
				{"paginated", &Query{Limit: 2, Offset: 1}, []string{"e3", "e2"}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.Query(ctx, tt.query)
					if err != nil {
						t.Fatalf("Query() failed: %v", err)
					}
					if len(got) != len(tt.wantIDs) {
						t.Fatalf("Query() returned %d events, want %d", len(got), len(tt.wantIDs))
					}
					for i, e := range got {
						if e.ID != tt.wantIDs[i] {
							t.Errorf("event[%d] = %s, want %s", i, e.ID, tt.wantIDs[i])
						}
					}
				})
			}

			got, _ := s.Query(ctx, &Query{Types: []export.AuditEventType{export.AuditDownloaded}})
			if len(got) != 1 || got[0].Detail["index"] != "0" {
				t.Errorf("detail not round-tripped: %+v", got)
			}
			if !got[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
				t.Errorf("Timestamp = %v", got[0].Timestamp)
			}

			n, err := s.Count(ctx, &Query{JobID: "job-1", Limit: 1})
			if err != nil || n != 3 {
				t.Errorf("Count() = %d, %v, want 3", n, err)
			}
		})
	}
}

func TestStore_DeleteBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			s.Append(ctx, event("old", export.AuditInitiated, "j", "u", base))
			s.Append(ctx, event("new", export.AuditInitiated, "j", "u", base.Add(48*time.Hour)))

			removed, err := s.DeleteBefore(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("DeleteBefore() failed: %v", err)
			}
			if removed != 1 {
				t.Errorf("DeleteBefore() = %d, want 1", removed)
			}
			n, _ := s.Count(ctx, nil)
			if n != 1 {
				t.Errorf("Count() after delete = %d, want 1", n)
			}
		})
	}
}

func TestRecorder_WritesAsynchronously(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, DefaultConfig())

	ctx := context.Background()
	r.Record(ctx, &export.AuditEvent{Type: export.AuditInitiated, JobID: "job-1", OwnerID: "u", ActorID: "u"})
	r.Record(ctx, &export.AuditEvent{Type: export.AuditCancelled, JobID: "job-1", OwnerID: "u", ActorID: "u"})

	if err := r.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	events, _ := store.Query(ctx, &Query{JobID: "job-1"})
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.ID == "" {
			t.Error("event ID not assigned")
		}
		if e.Timestamp.IsZero() {
			t.Error("event timestamp not assigned")
		}
	}
}

func TestRecorder_Disabled(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, &Config{Enabled: false})

	r.Record(context.Background(), &export.AuditEvent{Type: export.AuditInitiated, JobID: "j"})
	r.Close()

	n, _ := store.Count(context.Background(), nil)
	if n != 0 {
		t.Errorf("disabled recorder stored %d events", n)
	}
}

type failingStore struct {
	*MemoryStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(ctx context.Context, e *export.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func TestRecorder_StoreFailureIsSwallowed(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	r := NewRecorder(store, DefaultConfig())

	r.Record(context.Background(), &export.AuditEvent{Type: export.AuditDeleted, JobID: "j"})
	r.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 1 {
		t.Errorf("Append called %d times, want 1", store.calls)
	}
}

func TestRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, DefaultConfig())
	r.Close()
	r.Close()

	r.Record(context.Background(), &export.AuditEvent{Type: export.AuditDeleted, JobID: "j"})

	n, _ := store.Count(context.Background(), nil)
	if n != 0 {
		t.Errorf("stored %d events after Close, want 0", n)
	}
}
