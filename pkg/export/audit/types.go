package audit

import (
	"context"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// Store persists audit events. Events are append-only; the only removal
// path is DeleteBefore, used by retention.
type Store interface {
	// Append writes one event.
	Append(ctx context.Context, event *export.AuditEvent) error

	// Query returns events matching q, newest first.
	Query(ctx context.Context, q *Query) ([]*export.AuditEvent, error)

	// Count returns the number of events matching q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes events older than cutoff and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// Query filters audit events. Zero fields match everything.
type Query struct {
	JobID   string
	OwnerID string
	ActorID string
	Types   []export.AuditEventType

	Since time.Time
	Until time.Time

	Limit  int
	Offset int
}

// Matches reports whether event satisfies the query filters.
func (q *Query) Matches(event *export.AuditEvent) bool {
	if q == nil {
		return true
	}
	if q.JobID != "" && event.JobID != q.JobID {
		return false
	}
	if q.OwnerID != "" && event.OwnerID != q.OwnerID {
		return false
	}
	if q.ActorID != "" && event.ActorID != q.ActorID {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.Since.IsZero() && event.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !event.Timestamp.Before(q.Until) {
		return false
	}
	return true
}
