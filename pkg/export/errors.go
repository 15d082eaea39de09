package export

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("export not found")

	// ErrForbidden is returned when the caller is neither owner nor administrator.
	ErrForbidden = errors.New("access denied")

	// ErrInvalidState is returned when an operation is not allowed in the
	// job's current status.
	ErrInvalidState = errors.New("invalid export state")

	// ErrRecordNotFound is returned by record sources for unknown records.
	ErrRecordNotFound = errors.New("record not found")

	// ErrArtifactNotFound is returned by artifact storage for unknown handles.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrQuotaExceeded is wrapped by validation errors for quota violations.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited is returned when the caller creates jobs too quickly.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrOverloaded is returned when the engine cannot admit more work.
	ErrOverloaded = errors.New("export engine overloaded")
)

// ValidationError reports a rejected request. No job is created.
type ValidationError struct {
	Field  string // Offending request field ("format", "recordIds", "options")
	Reason string // Human-readable reason
	Cause  error  // Optional underlying error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [field=%s]: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying cause error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError reports an operation attempted in a status that does not allow it.
type StateError struct {
	JobID     string
	Status    Status
	Operation string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s export %s in status %s", e.Operation, e.JobID, e.Status)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewStateError creates a new StateError.
func NewStateError(jobID string, status Status, operation string) *StateError {
	return &StateError{JobID: jobID, Status: status, Operation: operation}
}

// RetrievalError reports a failure to fetch a source record.
type RetrievalError struct {
	RecordID string
	Cause    error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("record retrieval failed [record_id=%s]: %v", e.RecordID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// NewRetrievalError creates a new RetrievalError.
func NewRetrievalError(recordID string, cause error) *RetrievalError {
	return &RetrievalError{RecordID: recordID, Cause: cause}
}

// GenerationError reports a format-specific generator failure.
type GenerationError struct {
	Format      Format // Generator format
	RecordCount int    // Number of records being rendered
	Cause       error  // Underlying error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed [format=%s, record_count=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(format Format, recordCount int, cause error) *GenerationError {
	return &GenerationError{Format: format, RecordCount: recordCount, Cause: cause}
}

// StorageError represents an error from a storage backend, either the job
// store or the artifact storage.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "filesystem", "s3", etc.)
	Operation string // Operation that failed ("put", "update", "delete", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
