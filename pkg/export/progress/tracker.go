package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// Subscriber receives progress snapshots for one job. A returned error is
// logged and otherwise ignored; the subscription stays registered until it
// is removed explicitly or the job is retired.
type Subscriber func(jobID string, snapshot export.Snapshot) error

// Config controls snapshot retention.
type Config struct {
	// RetentionWindow is how long a terminal snapshot is kept after the job
	// reached its terminal state.
	// Default: 1 hour
	RetentionWindow time.Duration

	// SweepInterval is the period of Run.
	// Default: 5 minutes
	SweepInterval time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		RetentionWindow: time.Hour,
		SweepInterval:   5 * time.Minute,
	}
}

type entry struct {
	snapshot    export.Snapshot
	hasSnapshot bool
	terminalAt  time.Time
	subscribers map[string]Subscriber
}

// Tracker keeps the latest progress snapshot of every live job and pushes
// changes to subscribers.
//
// # Ordering
//
// Update holds the tracker lock only while replacing the snapshot and
// copying the subscriber set. Delivery happens after the lock is released,
// synchronously, in the caller's goroutine. A job is written from its
// execution task and from request goroutines (cancel, retry, reconcile),
// so snapshots carry the attempt they belong to: a snapshot from an
// earlier attempt than the current one is dropped, which keeps a failure
// recorded before a retry from overwriting the retried job.
//
// # Monotonic Progress
//
// While a job is non-terminal its progress never decreases; lower values
// are clamped to the current one. Once a terminal snapshot is recorded,
// further updates of the same attempt are dropped. A later attempt starts
// over from its own snapshot.
type Tracker struct {
	config  Config
	entries map[string]*entry
	mu      sync.RWMutex

	observer func(subscribers int)
	now      func() time.Time
	logger   *slog.Logger
}

// NewTracker creates an empty tracker. Zero config fields take defaults.
func NewTracker(config Config) *Tracker {
	defaults := DefaultConfig()
	if config.RetentionWindow <= 0 {
		config.RetentionWindow = defaults.RetentionWindow
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	return &Tracker{
		config:  config,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default().With("component", "export.progress"),
	}
}

// SetObserver registers a callback invoked with the total subscriber count
// whenever it changes. Used to feed the subscriber gauge.
func (t *Tracker) SetObserver(fn func(subscribers int)) {
	t.mu.Lock()
	t.observer = fn
	t.mu.Unlock()
}

// SetClock overrides the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update records a new snapshot for jobID and delivers it to every
// subscriber of that job. It reports whether the snapshot was accepted.
func (t *Tracker) Update(jobID string, snapshot export.Snapshot) bool {
	t.mu.Lock()
	e := t.entry(jobID)
	if e.hasSnapshot {
		if reason := staleReason(e.snapshot, snapshot); reason != "" {
			t.mu.Unlock()
			t.logger.Debug("dropping progress update",
				"job_id", jobID,
				"status", snapshot.Status,
				"attempt", snapshot.Attempt,
				"reason", reason,
			)
			return false
		}
	}

	snapshot.Progress = max(0, min(100, snapshot.Progress))
	if e.hasSnapshot && snapshot.Attempt == e.snapshot.Attempt && snapshot.Progress < e.snapshot.Progress {
		snapshot.Progress = e.snapshot.Progress
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = t.now()
	}
	if snapshot.Status.IsTerminal() {
		e.terminalAt = t.now()
	} else {
		e.terminalAt = time.Time{}
	}
	e.snapshot = snapshot
	e.hasSnapshot = true
	subs := copySubscribers(e.subscribers)
	t.mu.Unlock()

	t.deliver(jobID, snapshot, subs)
	return true
}

// staleReason reports why next must not replace current, or "" when it may.
func staleReason(current, next export.Snapshot) string {
	switch {
	case next.Attempt < current.Attempt:
		return "earlier attempt"
	case next.Attempt == current.Attempt && current.Status.IsTerminal():
		return "terminal"
	}
	return ""
}

// Track seeds the snapshot of a job that the tracker does not know yet,
// typically from the durable store. Known jobs are left untouched.
func (t *Tracker) Track(jobID string, snapshot export.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(jobID)
	if e.hasSnapshot {
		return
	}
	e.snapshot = snapshot
	e.hasSnapshot = true
	if snapshot.Status.IsTerminal() {
		e.terminalAt = t.now()
	}
}

// Reset replaces the snapshot, clearing the terminal state and the progress
// floor. Subscribers are kept and notified. A snapshot from an earlier
// attempt than the current one is ignored.
func (t *Tracker) Reset(jobID string, snapshot export.Snapshot) {
	t.mu.Lock()
	e := t.entry(jobID)
	if e.hasSnapshot && snapshot.Attempt < e.snapshot.Attempt {
		t.mu.Unlock()
		return
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = t.now()
	}
	e.snapshot = snapshot
	e.hasSnapshot = true
	e.terminalAt = time.Time{}
	subs := copySubscribers(e.subscribers)
	t.mu.Unlock()

	t.deliver(jobID, snapshot, subs)
}

// Get returns the current snapshot of a job.
func (t *Tracker) Get(jobID string) (export.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[jobID]
	if !ok || !e.hasSnapshot {
		return export.Snapshot{}, false
	}
	return e.snapshot, true
}

// Subscribe registers fn for jobID under subscriberID, replacing an earlier
// registration with the same ID. If a snapshot is known it is delivered to
// fn immediately.
func (t *Tracker) Subscribe(jobID, subscriberID string, fn Subscriber) {
	t.mu.Lock()
	e := t.entry(jobID)
	if e.subscribers == nil {
		e.subscribers = make(map[string]Subscriber)
	}
	e.subscribers[subscriberID] = fn
	snapshot, has := e.snapshot, e.hasSnapshot
	count, observer := t.subscriberCountLocked(), t.observer
	t.mu.Unlock()

	t.logger.Debug("subscriber added", "job_id", jobID, "subscriber_id", subscriberID)
	if observer != nil {
		observer(count)
	}
	if has {
		t.deliver(jobID, snapshot, map[string]Subscriber{subscriberID: fn})
	}
}

// Unsubscribe removes one subscription.
func (t *Tracker) Unsubscribe(jobID, subscriberID string) {
	t.mu.Lock()
	e, ok := t.entries[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(e.subscribers, subscriberID)
	if !e.hasSnapshot && len(e.subscribers) == 0 {
		delete(t.entries, jobID)
	}
	count, observer := t.subscriberCountLocked(), t.observer
	t.mu.Unlock()

	if observer != nil {
		observer(count)
	}
}

// UnsubscribeAll removes every subscription held by subscriberID and
// returns how many were removed. Called when a transport closes.
func (t *Tracker) UnsubscribeAll(subscriberID string) int {
	t.mu.Lock()
	removed := 0
	for jobID, e := range t.entries {
		if _, ok := e.subscribers[subscriberID]; ok {
			delete(e.subscribers, subscriberID)
			removed++
		}
		if !e.hasSnapshot && len(e.subscribers) == 0 {
			delete(t.entries, jobID)
		}
	}
	count, observer := t.subscriberCountLocked(), t.observer
	t.mu.Unlock()

	if removed > 0 && observer != nil {
		observer(count)
	}
	return removed
}

// Forget drops the snapshot and all subscribers of a job.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	_, ok := t.entries[jobID]
	delete(t.entries, jobID)
	count, observer := t.subscriberCountLocked(), t.observer
	t.mu.Unlock()

	if ok && observer != nil {
		observer(count)
	}
}

// Sweep retires jobs that have been terminal for longer than the retention
// window, together with their subscribers. It returns the number of jobs
// retired.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	retired := 0
	for jobID, e := range t.entries {
		if e.terminalAt.IsZero() {
			continue
		}
		if now.Sub(e.terminalAt) > t.config.RetentionWindow {
			delete(t.entries, jobID)
			retired++
		}
	}
	count, observer := t.subscriberCountLocked(), t.observer
	t.mu.Unlock()

	if retired > 0 {
		t.logger.Debug("retired terminal snapshots", "count", retired)
		if observer != nil {
			observer(count)
		}
	}
	return retired
}

// Run sweeps periodically until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			now := t.now()
			t.mu.RUnlock()
			t.Sweep(now)
		}
	}
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// SubscriberCount returns the total number of live subscriptions.
func (t *Tracker) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subscriberCountLocked()
}

func (t *Tracker) subscriberCountLocked() int {
	n := 0
	for _, e := range t.entries {
		n += len(e.subscribers)
	}
	return n
}

// entry returns the entry for jobID, creating it. Caller holds the write lock.
func (t *Tracker) entry(jobID string) *entry {
	e, ok := t.entries[jobID]
	if !ok {
		e = &entry{}
		t.entries[jobID] = e
	}
	return e
}

func (t *Tracker) deliver(jobID string, snapshot export.Snapshot, subs map[string]Subscriber) {
	for id, fn := range subs {
		if err := safeInvoke(fn, jobID, snapshot); err != nil {
			t.logger.Warn("progress delivery failed",
				"job_id", jobID,
				"subscriber_id", id,
				"error", err,
			)
		}
	}
}

func safeInvoke(fn Subscriber, jobID string, snapshot export.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(jobID, snapshot)
}

func copySubscribers(in map[string]Subscriber) map[string]Subscriber {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]Subscriber, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
