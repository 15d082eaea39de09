package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/api/types"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/telemetry/logging"
)

type recordedRequest struct {
	method, route string
	code          int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, code int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, route, code})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generated", "", false},
		{"client supplied", "req-123", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" || w.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("request ID = %q, header = %q", seen, w.Header().Get(RequestIDHeader))
			}
			if (seen == tt.incoming) != tt.reuse {
				t.Errorf("reused client ID = %v, want %v", seen == tt.incoming, tt.reuse)
			}
		})
	}
}

func TestMetricsMiddleware_RecordsRoute(t *testing.T) {
	rec := &fakeRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /exports/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	h := Chain(CaptureRoute(mux), RequestIDMiddleware, MetricsMiddleware(rec))

	for _, path := range []string{"/exports/abc/status", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []recordedRequest{
		{"GET", "GET /exports/{id}/status", http.StatusAccepted},
		{"GET", "", http.StatusNotFound},
	}
	if len(rec.requests) != len(want) {
		t.Fatalf("recorded %d requests, want %d", len(rec.requests), len(want))
	}
	for i := range want {
		if rec.requests[i] != want[i] {
			t.Errorf("request %d = %+v, want %+v", i, rec.requests[i], want[i])
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if body.Error.Type != types.ErrorTypeServerError || strings.Contains(body.Error.Message, "boom") {
		t.Errorf("body = %+v", body)
	}
}

func TestCORSMiddleware(t *testing.T) {
	cfg := config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://console.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         600,
	}
	called := false
	h := CORSMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/exports", nil)
	preflight.Header.Set("Origin", "https://console.example.com")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, preflight)

	if w.Code != http.StatusNoContent || called {
		t.Errorf("preflight status = %d, handler called = %v", w.Code, called)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q", got)
	}

	other := httptest.NewRequest(http.MethodGet, "/exports", nil)
	other.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q, want empty", got)
	}
	if !called {
		t.Error("handler not called for simple request")
	}
}

func TestMaxBodyMiddleware(t *testing.T) {
	var readErr error
	h := MaxBodyMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))

	if readErr == nil {
		t.Fatal("ReadAll() succeeded past the limit")
	}
	if resp := types.FromError(readErr); resp.Error.Type != types.ErrorTypeRequestTooLarge {
		t.Errorf("FromError() type = %q, want %q", resp.Error.Type, types.ErrorTypeRequestTooLarge)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline bool
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !deadline {
		t.Error("request context has no deadline")
	}

	upgrade := httptest.NewRequest(http.MethodGet, "/ws/exports", nil)
	upgrade.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), upgrade)
	if deadline {
		t.Error("websocket upgrade got a deadline")
	}

	isDownload := func(r *http.Request) bool { return strings.HasSuffix(r.URL.Path, "/download") }
	h = TimeoutMiddleware(time.Second, isDownload)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/exports/x/download", nil))
	if deadline {
		t.Error("exempt download got a deadline")
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var inner *responseWriter
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	if inner.statusCode != http.StatusTeapot || inner.bytes != 15 {
		t.Errorf("captured status = %d, bytes = %d", inner.statusCode, inner.bytes)
	}
}
