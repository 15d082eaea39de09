package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"
)

// MaxBodyMiddleware caps request bodies at limit bytes. Reads beyond the
// cap fail with *http.MaxBytesError.
func MaxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware bounds the request context by timeout. Handlers observe
// the deadline through their context; the engine maps an expired deadline
// to 504. WebSocket upgrades and requests matched by exempt are left
// unbounded.
func TimeoutMiddleware(timeout time.Duration, exempt ...func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) || slices.ContainsFunc(exempt, func(fn func(*http.Request) bool) bool { return fn(r) }) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
