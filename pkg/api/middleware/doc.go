// Package middleware provides the HTTP middleware of the export API.
//
// The server composes them outermost first:
//
//	RecoveryMiddleware
//	RequestIDMiddleware
//	LoggingMiddleware
//	MetricsMiddleware
//	CORSMiddleware
//	MaxBodyMiddleware
//	TimeoutMiddleware
//	tracing.HTTPMiddleware
//	CaptureRoute(mux)
//
// CaptureRoute must sit directly around the mux so the matched pattern is
// visible to logging and metrics.
package middleware
