// Package worker provides the bounded, tracked task pool that runs export
// executions.
//
// A fixed number of workers drain a bounded queue. Submission is
// non-blocking and fails with ErrSaturated when the queue is full, which
// gives the caller an admission signal before any work is accepted.
//
// Tasks are tracked by ID from submission to completion. Panics inside a
// task are recovered, logged with a stack trace and passed to the handler
// registered with OnPanic.
package worker
