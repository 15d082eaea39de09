package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mercator-hq/exporter/pkg/api/types"
	"mercator-hq/exporter/pkg/export"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("client send buffer full")
)

// Client is one progress connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	principal export.Principal
	ctx       context.Context

	mu            sync.Mutex
	send          chan []byte
	closed        bool
	subscriptions map[string]int // export ID to last progress sent

	logger *slog.Logger
}

func newClient(ctx context.Context, hub *Hub, conn *websocket.Conn, principal export.Principal) *Client {
	id := uuid.NewString()
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		principal:     principal,
		ctx:           ctx,
		send:          make(chan []byte, hub.config.SendBuffer),
		subscriptions: make(map[string]int),
		logger:        hub.logger.With("client_id", id),
	}
}

// ReadPump reads client messages until the connection fails, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.config.PongTimeout
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.recorder.RecordWebSocketMessage("in", "invalid")
			c.enqueue(errorMessage("", "message must be a JSON object with a type"))
			continue
		}
		c.hub.recorder.RecordWebSocketMessage("in", string(msg.Type))
		c.handle(&msg)
	}
}

// WritePump writes queued messages and pings until the send queue is
// closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(msg *Inbound) {
	switch msg.Type {
	case TypeIdentify:
		c.enqueue(&Outbound{Type: TypeIdentified, UserID: c.principal.UserID, Timestamp: time.Now().UTC()})

	case TypeSubscribe:
		c.subscribe(msg.ExportID)

	case TypeUnsubscribe:
		if msg.ExportID == "" {
			c.enqueue(errorMessage("", "exportId is required"))
			return
		}
		c.hub.service.Unsubscribe(msg.ExportID, c.id)
		c.mu.Lock()
		delete(c.subscriptions, msg.ExportID)
		c.mu.Unlock()
		c.enqueue(&Outbound{Type: TypeUnsubscribed, ExportID: msg.ExportID, Timestamp: time.Now().UTC()})

	case TypePing:
		c.enqueue(&Outbound{Type: TypePong, Timestamp: time.Now().UTC()})

	default:
		c.enqueue(errorMessage("", fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// subscribe registers the client for exportID. The tracker answers with the
// current snapshot before Subscribe returns.
func (c *Client) subscribe(exportID string) {
	if exportID == "" {
		c.enqueue(errorMessage("", "exportId is required"))
		return
	}

	c.mu.Lock()
	last, exists := c.subscriptions[exportID]
	if !exists && len(c.subscriptions) >= c.hub.config.MaxSubscriptions {
		c.mu.Unlock()
		c.enqueue(errorMessage(exportID, fmt.Sprintf("subscription limit of %d reached", c.hub.config.MaxSubscriptions)))
		return
	}
	c.subscriptions[exportID] = last
	c.mu.Unlock()

	if err := c.hub.service.Subscribe(c.ctx, c.principal, exportID, c.id, c.deliver); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, exportID)
		c.mu.Unlock()

		resp := types.FromError(err)
		c.logger.Debug("subscription rejected", "export_id", exportID, "error", err)
		c.enqueue(errorMessage(exportID, resp.Error.Message))
	}
}

// deliver is the progress.Subscriber of this client. It runs on the
// goroutine that updated the job and must not block. Snapshots older than
// the last one sent are dropped; a subscription ends with its terminal
// snapshot.
func (c *Client) deliver(jobID string, snapshot export.Snapshot) error {
	data, err := json.Marshal(progressMessage(jobID, snapshot))
	if err != nil {
		return err
	}

	c.mu.Lock()
	last, ok := c.subscriptions[jobID]
	if !ok || snapshot.Progress < last {
		c.mu.Unlock()
		return nil
	}
	if snapshot.Status.IsTerminal() {
		delete(c.subscriptions, jobID)
	} else {
		c.subscriptions[jobID] = snapshot.Progress
	}
	err = c.sendLocked(data, TypeProgress)
	c.mu.Unlock()

	if errors.Is(err, errSlowClient) {
		c.logger.Warn("dropping slow progress client", "export_id", jobID)
		c.hub.unregister(c)
	}
	return err
}

// enqueue queues msg without blocking.
func (c *Client) enqueue(msg *Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(data, msg.Type)
}

func (c *Client) sendLocked(data []byte, msgType MessageType) error {
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		c.hub.recorder.RecordWebSocketMessage("out", string(msgType))
		return nil
	default:
		return errSlowClient
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
