package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// MemoryStore keeps audit events in a slice. Intended for tests and
// ephemeral deployments.
type MemoryStore struct {
	events []*export.AuditEvent
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, event *export.AuditEvent) error {
	e := copyEvent(event)
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, q *Query) ([]*export.AuditEvent, error) {
	matched := s.matching(q)

	offset, limit := 0, 0
	if q != nil {
		offset, limit = q.Offset, q.Limit
	}
	start := min(offset, len(matched))
	end := len(matched)
	if limit > 0 {
		end = min(start+limit, len(matched))
	}
	return matched[start:end], nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, q *Query) (int64, error) {
	return int64(len(s.matching(q))), nil
}

// DeleteBefore implements Store.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) matching(q *Query) []*export.AuditEvent {
	s.mu.RLock()
	var out []*export.AuditEvent
	for _, e := range s.events {
		if q.Matches(e) {
			out = append(out, copyEvent(e))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func copyEvent(e *export.AuditEvent) *export.AuditEvent {
	c := *e
	if e.Detail != nil {
		c.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			c.Detail[k] = v
		}
	}
	return &c
}
