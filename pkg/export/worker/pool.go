package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrSaturated is returned by Submit when the queue is full.
	ErrSaturated = errors.New("worker pool saturated")

	// ErrClosed is returned by Submit after Shutdown has been called.
	ErrClosed = errors.New("worker pool closed")

	// ErrDuplicate is returned by Submit when a task with the same ID is
	// already queued or running.
	ErrDuplicate = errors.New("task already tracked")
)

// Task is a unit of work. ctx is cancelled by Cancel or when Shutdown
// gives up waiting.
type Task func(ctx context.Context) error

// PanicHandler is invoked when a task panics, after the panic has been
// recovered.
type PanicHandler func(id string, recovered any)

// Config controls pool sizing.
type Config struct {
	// Workers is the number of tasks executed concurrently.
	// Default: 4
	Workers int

	// QueueSize is the number of tasks that may wait for a worker.
	// Default: 100
	QueueSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 100}
}

type task struct {
	id     string
	fn     Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
	Running   int `json:"running"`
	Queued    int `json:"queued"`
}

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
//
// Every submitted task is tracked by ID from Submit until it returns, so
// callers can wait for or cancel a specific task and Shutdown can drain
// all of them.
//
// # Backpressure
//
// Submit never blocks. When the queue is full it returns ErrSaturated and
// the caller decides what to do (the orchestrator rejects the request
// before persisting anything).
type Pool struct {
	config Config
	queue  chan *task

	tasks  map[string]*task
	closed bool
	mu     sync.Mutex

	running atomic.Int64
	workers sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	onPanic PanicHandler
	logger  *slog.Logger
}

// NewPool creates a pool and starts its workers.
func NewPool(config Config) *Pool {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:     config,
		queue:      make(chan *task, config.QueueSize),
		tasks:      make(map[string]*task),
		baseCtx:    ctx,
		baseCancel: cancel,
		logger:     slog.Default().With("component", "export.worker"),
	}

	p.workers.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.runWorker(i)
	}

	p.logger.Info("worker pool started",
		"workers", config.Workers,
		"queue_size", config.QueueSize,
	)
	return p
}

// OnPanic registers the handler for recovered task panics. Call before
// submitting work.
func (p *Pool) OnPanic(fn PanicHandler) {
	p.mu.Lock()
	p.onPanic = fn
	p.mu.Unlock()
}

// Submit queues fn under id. It returns ErrSaturated if the queue is full,
// ErrDuplicate if id is already tracked and ErrClosed after Shutdown.
func (p *Pool) Submit(id string, fn Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, exists := p.tasks[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	t := &task{id: id, fn: fn, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	select {
	case p.queue <- t:
		p.tasks[id] = t
		return nil
	default:
		cancel()
		return ErrSaturated
	}
}

// Saturated reports whether Submit would currently be rejected for lack of
// queue space.
func (p *Pool) Saturated() bool {
	return len(p.queue) >= cap(p.queue)
}

// Cancel cancels the context of a tracked task. It reports whether the
// task was found.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Wait blocks until the task with the given id has finished or ctx is done.
// Waiting for an unknown id returns immediately.
func (p *Pool) Wait(ctx context.Context, id string) error {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the IDs of all queued and running tasks, sorted.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.config.Workers,
		QueueSize: p.config.QueueSize,
		Running:   int(p.running.Load()),
		Queued:    len(p.queue),
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx expires first, every task context is cancelled and
// Shutdown returns ctx.Err() without waiting further.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.logger.Info("worker pool shutting down", "tracked", len(p.Active()))

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.baseCancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.baseCancel()
		p.logger.Warn("worker pool shutdown timed out, cancelled remaining tasks",
			"remaining", len(p.Active()),
		)
		return ctx.Err()
	}
}

func (p *Pool) runWorker(n int) {
	defer p.workers.Done()
	for t := range p.queue {
		p.execute(t)
	}
	p.logger.Debug("worker exited", "worker", n)
}

func (p *Pool) execute(t *task) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		t.cancel()
		p.mu.Lock()
		delete(p.tasks, t.id)
		p.mu.Unlock()
		close(t.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"task_id", t.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			p.mu.Lock()
			handler := p.onPanic
			p.mu.Unlock()
			if handler != nil {
				handler(t.id, r)
			}
		}
	}()

	if err := t.fn(t.ctx); err != nil {
		p.logger.Debug("task returned error", "task_id", t.id, "error", err)
	}
}
