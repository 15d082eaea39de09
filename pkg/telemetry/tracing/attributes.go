package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the HTTP layer and the export engine.
const (
	// Job attributes
	AttrJobID       = "export.id"
	AttrJobFormat   = "export.format"
	AttrJobKind     = "export.kind"
	AttrJobStatus   = "export.status"
	AttrRecordCount = "export.records"
	AttrRetryCount  = "export.retry_count"

	// Artifact attributes
	AttrArtifactCount = "export.artifacts"
	AttrArtifactBytes = "export.size_bytes"

	// Request attributes
	AttrRequestID = "http.request_id"
	AttrUser      = "enduser.id"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// SetJobAttributes sets the identifying attributes of an export job.
func SetJobAttributes(span trace.Span, jobID, format, kind string, records int) {
	span.SetAttributes(
		attribute.String(AttrJobID, jobID),
		attribute.String(AttrJobFormat, format),
		attribute.String(AttrJobKind, kind),
		attribute.Int(AttrRecordCount, records),
	)
}

// SetRequestAttributes sets request attributes. Empty values are skipped.
func SetRequestAttributes(span trace.Span, requestID, user string) {
	if requestID != "" {
		span.SetAttributes(attribute.String(AttrRequestID, requestID))
	}
	if user != "" {
		span.SetAttributes(attribute.String(AttrUser, user))
	}
}
