// Package orchestrator turns export requests into tracked, asynchronous jobs.
//
// Create validates a request against the caller's permission facts, persists
// the job in initiating and schedules it on a bounded worker pool. Execution
// moves the job through processing, generating and completing to completed,
// or straight to failed on the first error. Cancel, Retry and Delete are the
// only external mutation paths; all of them go through Store.Update.
//
// Progress is pushed to the tracker on every committed change, so
// subscribers see a non-decreasing progress value from processing onward.
package orchestrator
