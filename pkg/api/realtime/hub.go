package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/progress"
)

// Service is the part of the orchestrator the progress channel uses.
type Service interface {
	Subscribe(ctx context.Context, principal export.Principal, id, subscriberID string, fn progress.Subscriber) error
	Unsubscribe(id, subscriberID string)
	UnsubscribeAll(subscriberID string) int
}

// Recorder receives connection and message counts. The telemetry metrics
// collector implements it.
type Recorder interface {
	WebSocketConnected()
	WebSocketDisconnected()
	RecordWebSocketMessage(direction, msgType string)
}

type nopRecorder struct{}

func (nopRecorder) WebSocketConnected() {}
func (nopRecorder) WebSocketDisconnected() {}
func (nopRecorder) RecordWebSocketMessage(string, string) {}

// Hub tracks the open progress connections.
type Hub struct {
	service  Service
	recorder Recorder
	config   config.WebSocketConfig

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewHub creates a hub. A nil recorder discards measurements.
func NewHub(service Service, cfg config.WebSocketConfig, recorder Recorder) *Hub {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultWebSocketPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = config.DefaultWebSocketPongTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = config.DefaultWebSocketSendBuffer
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = config.DefaultWebSocketMaxSubscriptions
	}
	return &Hub{
		service:  service,
		recorder: recorder,
		config:   cfg,
		clients:  make(map[*Client]struct{}),
		logger:   slog.Default().With("component", "api.realtime"),
	}
}

// register adds c. It fails once the hub is shut down.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.recorder.WebSocketConnected()

	h.logger.Debug("client connected", "client_id", c.id, "user_id", c.principal.UserID)
	return true
}

// unregister removes c, drops its subscriptions and closes its send queue.
// Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	removed := h.service.UnsubscribeAll(c.id)
	c.closeSend()
	h.recorder.WebSocketDisconnected()

	h.logger.Debug("client disconnected",
		"client_id", c.id,
		"user_id", c.principal.UserID,
		"subscriptions", removed,
	)
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown refuses new connections, closes the open ones and waits for
// their writers to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing progress connections", "clients", len(clients))
	for _, c := range clients {
		h.unregister(c)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run logs connection counts periodically until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.logger.Debug("hub stats", "clients", h.Len())
		}
	}
}
