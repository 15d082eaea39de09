// Package retention deletes expired export jobs on a schedule.
//
// A Sweeper enumerates jobs created before now minus MaxAge and removes each
// through the orchestrator's delete path, so artifacts go before records and
// every deletion is audited. A job that fails to delete is counted and
// skipped; the sweep carries on with the rest.
//
// After the job phase the sweeper removes orphaned artifacts (stored files
// whose job no longer exists) and, when configured, old audit events.
//
// # Scheduling
//
// The Scheduler runs the sweeper on a cron expression:
//
//   - "0 3 * * *": Daily at 3 AM (default)
//   - "0 */6 * * *": Every 6 hours
//   - "@every 30m": Every 30 minutes
//
// An empty schedule disables the scheduler; Sweep can still be called
// directly, as the CLI prune command does.
package retention
