// Package audit records externally visible export transitions.
//
// The Recorder implements export.AuditSink. It never blocks the orchestrator
// on storage: events go into a buffered channel drained by a single worker
// goroutine, and write failures are logged and dropped. Close drains the
// buffer before returning.
//
// Two stores are provided. SQLiteStore uses the pure-Go modernc.org/sqlite
// driver and a database file separate from the job store; MemoryStore backs
// tests and ephemeral runs.
package audit
