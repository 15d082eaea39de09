// Package export defines the domain model of the export engine: jobs, their
// state machine, progress snapshots, artifacts, typed per-format options and
// the ports the orchestrator drives (job store, record source, artifact
// storage, audit sink).
//
// # Architecture
//
// The engine consists of the following layers:
//
//  1. Orchestrator - validates requests and drives each job through its states
//  2. Generators - one per output format (document, data, tabular)
//  3. Record Source - fetches analysis records from the detection store
//  4. Artifact Storage - persists finished artifacts (filesystem, S3)
//  5. Job Store - durable job records (SQLite, memory)
//  6. Progress Tracker - live snapshots and subscriber fan-out
//  7. Audit Sink - append-only event log
//
// # Job Lifecycle
//
// A job moves strictly forward on the success path:
//
//	initiating → processing → generating → completing → completed
//
// Any stage may fail, and the first three may be cancelled:
//
//	initiating|processing|generating → cancelled
//	any non-terminal                 → failed
//
// A failed job may be retried, which returns it to initiating with its
// progress reset and its retry counter incremented.
//
// # Concurrency
//
// Store implementations serialize writers per job through Store.Update. The
// orchestrator never holds a lock while waiting on the record source or the
// artifact storage.
package export
