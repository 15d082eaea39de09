// Package records implements export.RecordSource against the external
// detection store (HTTPSource) and an in-memory fixture set (MemorySource).
package records
