package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/artifact"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/jobstore"
	"mercator-hq/exporter/pkg/export/orchestrator"
	"mercator-hq/exporter/pkg/export/progress"
	"mercator-hq/exporter/pkg/export/records"
	"mercator-hq/exporter/pkg/security/auth"
)

var (
	alice = export.Principal{UserID: "alice", Role: export.RoleUser, Tier: export.TierPremium}
	bob   = export.Principal{UserID: "bob", Role: export.RoleUser, Tier: export.TierPremium}
)

type countingRecorder struct {
	mu        sync.Mutex
	connected int
	messages  map[string]int
}

func (r *countingRecorder) WebSocketConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *countingRecorder) WebSocketDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected--
}

func (r *countingRecorder) RecordWebSocketMessage(direction, msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = make(map[string]int)
	}
	r.messages[direction+"/"+msgType]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[key]
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	hub      *Hub
	server   *httptest.Server
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:      jobstore.NewMemoryStore(),
		Records:    records.NewMemorySource(records.SampleRecords()...),
		Storage:    artifact.NewMemoryStorage(),
		Generators: generator.NewDefaultRegistry(),
		Permissions: orchestrator.PermissionFunc(func(context.Context, export.Principal) (export.Permissions, error) {
			return export.Permissions{
				Tier:            export.TierPremium,
				AllowedFormats:  []export.Format{export.FormatData, export.FormatTabular, export.FormatDocument},
				MaxRecords:      10,
				MaxBatchRecords: 10,
			}, nil
		}),
	}, orchestrator.DefaultConfig())
	if err != nil {
		t.Fatalf("orchestrator.New() failed: %v", err)
	}

	rec := &countingRecorder{}
	hub := NewHub(orch, config.WebSocketConfig{}, rec)

	// The user is chosen by the "as" query parameter in place of API keys.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("as") {
		case "alice":
			r = r.WithContext(auth.WithPrincipal(r.Context(), alice))
		case "bob":
			r = r.WithContext(auth.WithPrincipal(r.Context(), bob))
		}
		hub.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		_ = orch.Shutdown(ctx)
	})
	return &fixture{orch: orch, hub: hub, server: server, recorder: rec}
}

func (f *fixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/exports?as=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() failed: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) createExport(t *testing.T, owner export.Principal, recordID string) string {
	t.Helper()
	res, err := f.orch.Create(context.Background(), owner, &orchestrator.CreateRequest{
		Format:    export.FormatData,
		RecordIDs: []string{recordID},
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return res.ID
}

func send(t *testing.T, conn *websocket.Conn, msg Inbound) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Outbound
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	return msg
}

func TestPingAndIdentify(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")

	send(t, conn, Inbound{Type: TypePing})
	if msg := receive(t, conn); msg.Type != TypePong {
		t.Errorf("reply to ping = %q, want %q", msg.Type, TypePong)
	}

	send(t, conn, Inbound{Type: TypeIdentify})
	msg := receive(t, conn)
	if msg.Type != TypeIdentified || msg.UserID != "alice" {
		t.Errorf("reply to identify = %+v, want identified as alice", msg)
	}

	send(t, conn, Inbound{Type: "shout"})
	if msg := receive(t, conn); msg.Type != TypeError {
		t.Errorf("reply to unknown type = %q, want error", msg.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage() failed: %v", err)
	}
	if msg := receive(t, conn); msg.Type != TypeError {
		t.Errorf("reply to invalid JSON = %q, want error", msg.Type)
	}

	if got := f.recorder.count("in/ping"); got != 1 {
		t.Errorf("recorded in/ping = %d, want 1", got)
	}
}

func TestSubscribe_StreamsUntilTerminal(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")
	id := f.createExport(t, alice, "a1")

	send(t, conn, Inbound{Type: TypeSubscribe, ExportID: id})

	last := -1
	for {
		msg := receive(t, conn)
		if msg.Type != TypeProgress {
			t.Fatalf("message type = %q, want %q (%s)", msg.Type, TypeProgress, msg.Message)
		}
		if msg.ExportID != id || msg.Progress == nil {
			t.Fatalf("progress message = %+v", msg)
		}
		if msg.Progress.Progress < last {
			t.Fatalf("progress went from %d to %d", last, msg.Progress.Progress)
		}
		last = msg.Progress.Progress
		if msg.Progress.Status.IsTerminal() {
			if msg.Progress.Status != export.StatusCompleted || last != 100 {
				t.Errorf("final snapshot = %+v, want completed at 100", msg.Progress)
			}
			return
		}
	}
}

func TestSubscribe_Rejections(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "bob")
	id := f.createExport(t, alice, "a1")

	tests := []struct {
		name     string
		exportID string
		want     string
	}{
		{"other owner", id, "access denied"},
		{"unknown export", "missing", "export not found"},
		{"empty id", "", "exportId is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, Inbound{Type: TypeSubscribe, ExportID: tt.exportID})
			msg := receive(t, conn)
			if msg.Type != TypeError || msg.Message != tt.want {
				t.Errorf("reply = %+v, want error %q", msg, tt.want)
			}
		})
	}
}

// stalledService reports every export as processing and never advances.
type stalledService struct{}

func (stalledService) Subscribe(_ context.Context, _ export.Principal, id, _ string, fn progress.Subscriber) error {
	return fn(id, export.Snapshot{Status: export.StatusProcessing, Progress: 5, Message: "Retrieving records"})
}

func (stalledService) Unsubscribe(string, string) {}

func (stalledService) UnsubscribeAll(string) int { return 0 }

func TestSubscribe_Limit(t *testing.T) {
	hub := NewHub(stalledService{}, config.WebSocketConfig{MaxSubscriptions: 2}, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), alice)))
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	for _, id := range []string{"e1", "e2", "e1"} {
		send(t, conn, Inbound{Type: TypeSubscribe, ExportID: id})
		if msg := receive(t, conn); msg.Type != TypeProgress || msg.ExportID != id {
			t.Fatalf("subscribe %s reply = %+v, want progress", id, msg)
		}
	}

	send(t, conn, Inbound{Type: TypeSubscribe, ExportID: "e3"})
	if msg := receive(t, conn); msg.Type != TypeError || !strings.Contains(msg.Message, "limit of 2") {
		t.Errorf("third subscription reply = %+v, want limit error", msg)
	}

	send(t, conn, Inbound{Type: TypeUnsubscribe, ExportID: "e1"})
	receive(t, conn)
	send(t, conn, Inbound{Type: TypeSubscribe, ExportID: "e3"})
	if msg := receive(t, conn); msg.Type != TypeProgress {
		t.Errorf("subscription after unsubscribe reply = %+v, want progress", msg)
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")
	id := f.createExport(t, alice, "a1")

	send(t, conn, Inbound{Type: TypeSubscribe, ExportID: id})
	receive(t, conn)
	if f.orch.Tracker().SubscriberCount() == 0 {
		t.Fatal("tracker has no subscribers after subscribe")
	}

	send(t, conn, Inbound{Type: TypeUnsubscribe, ExportID: id})
	// Progress updates may still be in flight before the ack.
	for {
		msg := receive(t, conn)
		if msg.Type == TypeUnsubscribed {
			break
		}
	}

	send(t, conn, Inbound{Type: TypeSubscribe, ExportID: id})
	receive(t, conn)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.hub.Len() > 0 || f.orch.Tracker().SubscriberCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("after close: %d clients, %d subscribers", f.hub.Len(), f.orch.Tracker().SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")

	send(t, conn, Inbound{Type: TypePing})
	receive(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/exports?as=alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown: err = %v, resp = %v, want 503", err, resp)
	}
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/exports"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous dial: err = %v, resp = %v, want 401", err, resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "api.example.com", true},
		{"same origin", nil, "https://api.example.com", "api.example.com", true},
		{"cross origin", nil, "https://evil.example.com", "api.example.com", false},
		{"listed", []string{"https://app.example.com"}, "https://APP.example.com", "api.example.com", true},
		{"wildcard", []string{"*"}, "https://any.example.com", "api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(nil, config.WebSocketConfig{AllowedOrigins: tt.allowed}, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws/exports", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
