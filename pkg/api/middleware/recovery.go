package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/exporter/pkg/api/types"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and answers 500
// with the standard error envelope. The panic and stack are logged; no
// internal detail reaches the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				_ = types.WriteError(w, types.NewServerError(
					"An internal error occurred. Please try again later.",
				))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
