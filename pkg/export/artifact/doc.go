// Package artifact implements export.ArtifactStorage.
//
// Backends:
//   - FileStorage: local directory, atomic writes via rename
//   - ObjectStorage: S3-compatible bucket (MinIO, AWS S3)
//   - MemoryStorage: in-memory, for tests
//
// Handles are slash-separated keys of the form
// "YYYY/MM/DD/<job-id>/<file-name>"; see Key.
package artifact
