package middleware

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const routeKey contextKey = "route"

// routeInfo is filled in by CaptureRoute once the mux has matched.
type routeInfo struct {
	pattern string
}

func withRouteInfo(ctx context.Context) (context.Context, *routeInfo) {
	if info, ok := ctx.Value(routeKey).(*routeInfo); ok {
		return ctx, info
	}
	info := &routeInfo{}
	return context.WithValue(ctx, routeKey, info), info
}

// Route returns the mux pattern matched for the request, or "" when no
// route matched or the request has not reached the mux yet.
func Route(ctx context.Context) string {
	if info, ok := ctx.Value(routeKey).(*routeInfo); ok {
		return info.pattern
	}
	return ""
}
