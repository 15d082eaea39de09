package middleware

import (
	"net/http"
	"time"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, code int, duration time.Duration)
}

// MetricsMiddleware reports every request to rec, labelled by the matched
// route pattern.
func MetricsMiddleware(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			rec.RecordHTTPRequest(r.Method, Route(r.Context()), rw.statusCode, time.Since(start))
		})
	}
}

// CaptureRoute wraps the mux and records the matched pattern for the outer
// logging and metrics middleware. The mux sets Pattern on the request it is
// given, so it is read back after serving.
func CaptureRoute(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if info, ok := r.Context().Value(routeKey).(*routeInfo); ok {
			info.pattern = r.Pattern
		}
	})
}
