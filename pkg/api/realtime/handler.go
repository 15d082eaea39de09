package realtime

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"mercator-hq/exporter/pkg/api/types"
	"mercator-hq/exporter/pkg/security/auth"
)

// ServeHTTP upgrades an authenticated request to a progress connection.
// The route must be wrapped by the API key middleware; browsers pass the
// key as a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		_ = types.WriteError(w, types.NewErrorResponse(types.ErrorTypeAuthentication, "Missing API key", ""))
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		_ = types.WriteError(w, types.NewErrorResponse(types.ErrorTypeServiceUnavailable, "Server is shutting down", ""))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	client := newClient(context.WithoutCancel(r.Context()), h, conn, principal)
	if !h.register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// checkOrigin allows requests without an Origin header, same-origin
// requests, and origins listed in the configuration. "*" allows any origin.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.config.AllowedOrigins, "*") {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
