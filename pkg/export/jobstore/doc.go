// Package jobstore provides the durable job record backends.
//
// Two backends implement export.Store:
//
//   - SQLiteStore: the source of truth across restarts. WAL mode, with
//     immediate transactions for Update so concurrent writers to the same
//     job are serialized by the database write lock.
//   - MemoryStore: map guarded by a RWMutex, for tests and ephemeral runs.
//
// Both copy jobs on the way in and out; callers never share a *Job with the
// store.
package jobstore
