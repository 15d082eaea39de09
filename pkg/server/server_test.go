package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/telemetry"
)

const aliceKey = "alice-key"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Store.Backend = "memory"
	cfg.Artifacts.Backend = "memory"
	cfg.Audit.Backend = "memory"
	cfg.Records.Source = "sample"
	enabled := true
	cfg.Auth.Enabled = &enabled
	cfg.Auth.Keys = []config.APIKeyConfig{
		{Key: aliceKey, UserID: "alice", Role: "user", Tier: "premium"},
	}
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	tel, err := telemetry.New(&cfg.Telemetry, "test")
	if err != nil {
		t.Fatalf("telemetry.New() failed: %v", err)
	}
	s, err := New(context.Background(), cfg, tel, BuildInfo{Version: "test", Commit: "abc123"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func request(t *testing.T, base, key, method, path, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
}

func TestServer_ExportLifecycle(t *testing.T) {
	s := newServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	submitted := time.Now()
	resp := request(t, ts.URL, aliceKey, http.MethodPost, "/exports", `{"format":"data","recordIds":["a1","a2"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /exports status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created struct {
		ExportID            string        `json:"exportId"`
		Status              export.Status `json:"status"`
		EstimatedCompletion time.Time     `json:"estimatedCompletion"`
	}
	decode(t, resp, &created)
	if created.ExportID == "" {
		t.Fatal("POST /exports returned no exportId")
	}
	if created.Status != export.StatusInitiating {
		t.Errorf("POST /exports status field = %q, want initiating", created.Status)
	}
	if !created.EstimatedCompletion.After(submitted.Add(-time.Second)) {
		t.Errorf("estimatedCompletion = %v, want a time after submission", created.EstimatedCompletion)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status struct {
		Status   export.Status `json:"status"`
		Progress int           `json:"progress"`
	}
	for {
		resp := request(t, ts.URL, aliceKey, http.MethodGet, "/exports/"+created.ExportID+"/status", "")
		decode(t, resp, &status)
		if status.Status.IsTerminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export still %s after 5s", status.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status.Status != export.StatusCompleted || status.Progress != 100 {
		t.Fatalf("final status = %s at %d%%, want completed at 100%%", status.Status, status.Progress)
	}

	download := request(t, ts.URL, aliceKey, http.MethodGet, "/exports/"+created.ExportID+"/download", "")
	if download.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", download.StatusCode)
	}
	if download.Header.Get("Content-Disposition") == "" {
		t.Error("download has no Content-Disposition header")
	}
}

func TestServer_Routes(t *testing.T) {
	s := newServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	tests := []struct {
		name       string
		key        string
		method     string
		path       string
		wantStatus int
	}{
		{"liveness", "", http.MethodGet, "/health", http.StatusOK},
		{"readiness", "", http.MethodGet, "/ready", http.StatusOK},
		{"version", "", http.MethodGet, "/version", http.StatusOK},
		{"metrics", "", http.MethodGet, "/metrics", http.StatusOK},
		{"formats", aliceKey, http.MethodGet, "/exports/formats", http.StatusOK},
		{"missing key", "", http.MethodGet, "/exports/formats", http.StatusUnauthorized},
		{"wrong key", "nope", http.MethodGet, "/users/alice/exports", http.StatusUnauthorized},
		{"unknown export", aliceKey, http.MethodGet, "/exports/does-not-exist/status", http.StatusNotFound},
		{"websocket without key", "", http.MethodGet, "/ws/exports", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := request(t, ts.URL, tt.key, tt.method, tt.path, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestServer_RequestIDAndTraceHeaders(t *testing.T) {
	s := newServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := request(t, ts.URL, aliceKey, http.MethodGet, "/exports/formats", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response has no X-Request-ID header")
	}
}

func TestServer_ApplyConfig(t *testing.T) {
	cfg := testConfig()
	s := newServer(t, cfg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if resp := request(t, ts.URL, "bob-key", http.MethodGet, "/exports/formats", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key status = %d, want 401", resp.StatusCode)
	}

	reloaded := testConfig()
	reloaded.Auth.Keys = append(reloaded.Auth.Keys, config.APIKeyConfig{Key: "bob-key", UserID: "bob", Role: "user", Tier: "basic"})
	reloaded.Telemetry.Logging.Level = "debug"
	s.ApplyConfig(reloaded)

	resp := request(t, ts.URL, "bob-key", http.MethodGet, "/exports/formats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reloaded key status = %d, want 200", resp.StatusCode)
	}
	if got := s.telemetry.Logger().Level().String(); got != "DEBUG" {
		t.Errorf("log level = %s, want DEBUG", got)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := newServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := request(t, "http://"+s.Addr().String(), "", http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() after shutdown succeeded")
	}
}

func TestNew_InvalidBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"job store", func(c *config.Config) { c.Store.Backend = "cassandra" }},
		{"artifacts", func(c *config.Config) { c.Artifacts.Backend = "tape" }},
		{"records", func(c *config.Config) { c.Records.Source = "carrier-pigeon" }},
		{"tls", func(c *config.Config) {
			c.Server.TLS = config.TLSConfig{Enabled: true, CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			tel, err := telemetry.New(&cfg.Telemetry, "test")
			if err != nil {
				t.Fatalf("telemetry.New() failed: %v", err)
			}
			if _, err := New(context.Background(), cfg, tel, BuildInfo{}); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestRetentionConfig(t *testing.T) {
	disabled := false
	cfg := &config.RetentionConfig{Enabled: &disabled, Schedule: "0 3 * * *", MaxAge: time.Hour}

	got := RetentionConfig(cfg)
	if got.Schedule != "" {
		t.Errorf("Schedule = %q, want empty when retention is disabled", got.Schedule)
	}
	if got.MaxAge != time.Hour || !got.CleanOrphans {
		t.Errorf("RetentionConfig() = %+v", got)
	}
}

func TestEstimates(t *testing.T) {
	if got := Estimates(&config.EstimatesConfig{}); got != nil {
		t.Errorf("Estimates(empty) = %v, want nil", got)
	}

	got := Estimates(&config.EstimatesConfig{Formats: map[string]config.EstimateConfig{
		"data": {Base: time.Second, PerRecord: 2 * time.Second},
	}})
	if e := got[export.FormatData]; e.Base != time.Second || e.PerRecord != 2*time.Second {
		t.Errorf("Estimates()[data] = %+v", e)
	}
}
