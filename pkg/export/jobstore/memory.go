package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// MemoryStore implements export.Store with an in-memory map. All reads and
// writes go through copies so callers never share state with the store.
type MemoryStore struct {
	jobs map[string]*export.Job
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*export.Job)}
}

// Create implements export.Store.
func (s *MemoryStore) Create(ctx context.Context, job *export.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return export.NewStorageError("memory", "create", fmt.Errorf("job %s already exists", job.ID))
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get implements export.Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*export.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, export.ErrNotFound
	}
	return job.Clone(), nil
}

// Update implements export.Store. fn runs under the store's write lock and
// must not block.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*export.Job) error) (*export.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, export.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.jobs[id] = working
	return working.Clone(), nil
}

// Delete implements export.Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return export.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// List implements export.Store.
func (s *MemoryStore) List(ctx context.Context, query *export.JobQuery) ([]*export.Job, int, error) {
	if query == nil {
		query = &export.JobQuery{}
	}

	s.mu.RLock()
	var matched []*export.Job
	for _, job := range s.jobs {
		if matchesQuery(job, query) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)

	start := min(query.Offset, total)
	end := total
	if query.Limit > 0 {
		end = min(start+query.Limit, total)
	}
	return matched[start:end], total, nil
}

// Stats implements export.Store.
func (s *MemoryStore) Stats(ctx context.Context, ownerID string) (*export.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := export.NewJobStats(ownerID)
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			stats.Add(job)
		}
	}
	return stats, nil
}

// ListOlderThan implements export.Store.
func (s *MemoryStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*export.Job, error) {
	s.mu.RLock()
	var out []*export.Job
	for _, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListActive implements export.Store.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*export.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*export.Job
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// CountActive implements export.Store.
func (s *MemoryStore) CountActive(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && !job.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

// Ping implements export.Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements export.Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*export.Job)
	return nil
}

func matchesQuery(job *export.Job, query *export.JobQuery) bool {
	if query.OwnerID != "" && job.OwnerID != query.OwnerID {
		return false
	}
	if query.Status != "" && job.Status != query.Status {
		return false
	}
	if query.Kind != "" && job.Kind != query.Kind {
		return false
	}
	if query.Format != "" && job.Format != query.Format {
		return false
	}
	return true
}

func sortNewestFirst(jobs []*export.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
