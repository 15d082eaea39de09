package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/exporter/pkg/export"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// Enabled enables audit recording.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both enqueueing and a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder is the asynchronous export.AuditSink. Record enqueues and
// returns; a background worker writes to the Store. Failures are logged and
// never reach the caller.
type Recorder struct {
	store     Store
	config    *Config
	eventChan chan *export.AuditEvent
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
	logger    *slog.Logger
}

// NewRecorder creates a recorder writing to store and starts its worker.
func NewRecorder(store Store, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	r := &Recorder{
		store:     store,
		config:    config,
		eventChan: make(chan *export.AuditEvent, config.AsyncBuffer),
		done:      make(chan struct{}),
		now:       time.Now,
		logger:    slog.Default().With("component", "export.audit"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"enabled", config.Enabled,
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)

	return r
}

// Record implements export.AuditSink. The event is copied, stamped with an
// ID and timestamp if missing, and enqueued.
func (r *Recorder) Record(ctx context.Context, event *export.AuditEvent) {
	if !r.config.Enabled || event == nil {
		return
	}

	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if event.Detail != nil {
		e.Detail = make(map[string]string, len(event.Detail))
		for k, v := range event.Detail {
			e.Detail[k] = v
		}
	}

	select {
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping audit event",
			"event_type", e.Type,
			"job_id", e.JobID,
		)
		return
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.eventChan <- &e:
		r.logger.Debug("audit event enqueued",
			"event_id", e.ID,
			"event_type", e.Type,
			"job_id", e.JobID,
		)
	case <-timer.C:
		r.logger.Error("audit channel full, dropping event",
			"event_type", e.Type,
			"job_id", e.JobID,
			"channel_capacity", r.config.AsyncBuffer,
		)
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping audit event",
			"event_type", e.Type,
			"job_id", e.JobID,
		)
	}
}

// Close stops accepting events and drains the buffer.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down audit recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("audit recorder shut down complete")
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.eventChan:
			r.write(event)

		case <-r.done:
			r.logger.Info("draining audit channel before shutdown",
				"pending_count", len(r.eventChan),
			)
			for {
				select {
				case event := <-r.eventChan:
					r.write(event)
				default:
					r.logger.Info("audit channel drained")
					return
				}
			}
		}
	}
}

func (r *Recorder) write(event *export.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.store.Append(ctx, event); err != nil {
		r.logger.Error("failed to store audit event",
			"event_id", event.ID,
			"event_type", event.Type,
			"job_id", event.JobID,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"event_id", event.ID,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Discard is an export.AuditSink that drops every event.
type Discard struct{}

// Record implements export.AuditSink.
func (Discard) Record(context.Context, *export.AuditEvent) {}
