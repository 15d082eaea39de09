package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// LoggingMiddleware logs each completed request. The level follows the
// status class: 5xx at error, 4xx at warn, everything else at info.
//
//	{
//	  "level": "INFO",
//	  "msg": "request completed",
//	  "method": "GET",
//	  "path": "/exports/6f1c.../status",
//	  "route": "GET /exports/{id}/status",
//	  "status": 200,
//	  "latency_ms": 3,
//	  "request_id": "8e3b..."
//	}
func LoggingMiddleware(next http.Handler) http.Handler {
	logger := slog.Default().With("component", "api.http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= 500:
			level = slog.LevelError
		case rw.statusCode >= 400:
			level = slog.LevelWarn
		}

		logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"route", Route(r.Context()),
			"status", rw.statusCode,
			"bytes", rw.bytes,
			"latency_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}
