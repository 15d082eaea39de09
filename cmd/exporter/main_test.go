package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/jobstore"
	"mercator-hq/exporter/pkg/server"
	"mercator-hq/exporter/pkg/telemetry"
)

// execute runs the root command with args and returns what it printed.
// Flag variables are package state, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, output = "", "text"
	jobsFlags.owner, jobsFlags.status, jobsFlags.kind, jobsFlags.format = "", "", "", ""
	jobsFlags.limit, jobsFlags.offset, jobsFlags.maxAge = 50, 0, 0
	auditFlags.job, auditFlags.owner, auditFlags.actor = "", "", ""
	auditFlags.types, auditFlags.since, auditFlags.until = nil, "", ""
	auditFlags.limit, auditFlags.offset = 100, 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config file using a job store in dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()

	content := `
store:
  backend: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "jobs.db") + `
artifacts:
  backend: memory
audit:
  backend: memory
records:
  source: sample
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func seedJobs(t *testing.T, dir string, jobs ...*export.Job) {
	t.Helper()

	cfg := jobstore.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(dir, "jobs.db")
	store, err := jobstore.NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	defer store.Close()

	for _, job := range jobs {
		if err := store.Create(context.Background(), job); err != nil {
			t.Fatalf("Create(%s) failed: %v", job.ID, err)
		}
	}
}

func testJob(id, owner string, status export.Status, format export.Format) *export.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &export.Job{
		ID:        id,
		Kind:      export.KindSingle,
		Format:    format,
		OwnerID:   owner,
		RecordIDs: []string{"a1"},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	for _, want := range []string{"Exporter " + Version, "Git Commit:", "Go Version:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateConfigCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "validate-config", "--config", writeConfig(t, dir, ""))
	if err != nil {
		t.Fatalf("validate-config failed: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("validate-config output = %q", out)
	}

	invalid := writeConfig(t, dir, "jobs:\n  workers: -3\n")
	_, err = execute(t, "validate-config", "--config", invalid)
	if err == nil {
		t.Fatal("validate-config accepted negative workers")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("ExitCode() = %d, want %d", code, cli.ExitConfig)
	}
}

func TestJobsCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	seedJobs(t, dir,
		testJob("job-1", "alice", export.StatusCompleted, export.FormatData),
		testJob("job-2", "alice", export.StatusFailed, export.FormatTabular),
		testJob("job-3", "bob", export.StatusCompleted, export.FormatDocument),
	)

	t.Run("list filtered", func(t *testing.T) {
		out, err := execute(t, "jobs", "list", "--config", cfg, "--owner", "alice", "-o", "json")
		if err != nil {
			t.Fatalf("jobs list failed: %v", err)
		}
		var got struct {
			Jobs  []export.Job `json:"jobs"`
			Total int          `json:"total"`
		}
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("Unmarshal() failed: %v\n%s", err, out)
		}
		if got.Total != 2 || len(got.Jobs) != 2 {
			t.Errorf("jobs list --owner alice = %d jobs (total %d), want 2", len(got.Jobs), got.Total)
		}
	})

	t.Run("list csv", func(t *testing.T) {
		out, err := execute(t, "jobs", "list", "--config", cfg, "--status", "failed", "-o", "csv")
		if err != nil {
			t.Fatalf("jobs list failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 || !strings.HasPrefix(lines[1], "job-2,") {
			t.Errorf("jobs list --status failed csv =\n%s", out)
		}
	})

	t.Run("show", func(t *testing.T) {
		out, err := execute(t, "jobs", "show", "job-3", "--config", cfg)
		if err != nil {
			t.Fatalf("jobs show failed: %v", err)
		}
		if !strings.Contains(out, "document") || !strings.Contains(out, "bob") {
			t.Errorf("jobs show output =\n%s", out)
		}
	})

	t.Run("show unknown", func(t *testing.T) {
		if _, err := execute(t, "jobs", "show", "nope", "--config", cfg); err == nil {
			t.Error("jobs show of unknown job succeeded")
		}
	})

	t.Run("stats", func(t *testing.T) {
		out, err := execute(t, "jobs", "stats", "alice", "--config", cfg, "-o", "csv")
		if err != nil {
			t.Fatalf("jobs stats failed: %v", err)
		}
		for _, want := range []string{"total,,2", "status,completed,1", "status,failed,1"} {
			if !strings.Contains(out, want) {
				t.Errorf("jobs stats output missing %q:\n%s", want, out)
			}
		}
	})
}

func TestFormatsCommand(t *testing.T) {
	out, err := execute(t, "formats")
	if err != nil {
		t.Fatalf("formats failed: %v", err)
	}
	for _, want := range []string{"document", "data", "tabular"} {
		if !strings.Contains(out, want) {
			t.Errorf("formats output missing %q:\n%s", want, out)
		}
	}
}

func TestAuditQuery_InvalidTime(t *testing.T) {
	if _, err := execute(t, "audit", "query", "--since", "yesterday"); err == nil {
		t.Error("audit query accepted an invalid --since")
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2h", now.Add(-2 * time.Hour), false},
		{"2024-04-30T00:00:00Z", time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), false},
		{"-1h", time.Time{}, true},
		{"last week", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		listen string
		tls    bool
		want   string
	}{
		{"127.0.0.1:8090", false, "ws://127.0.0.1:8090/ws/exports"},
		{":8090", false, "ws://localhost:8090/ws/exports"},
		{"0.0.0.0:8443", true, "wss://localhost:8443/ws/exports"},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Server.ListenAddress = tt.listen
		cfg.Server.TLS.Enabled = tt.tls
		if got := channelURL(cfg); got != tt.want {
			t.Errorf("channelURL(%s, tls=%t) = %q, want %q", tt.listen, tt.tls, got, tt.want)
		}
	}
}

type recordingReporter struct {
	updates []int
	status  string
}

func (r *recordingReporter) Update(percent int, message string) {
	r.updates = append(r.updates, percent)
}

func (r *recordingReporter) Finish(status string) {
	r.status = status
}

func TestFollowExport(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	cfg.Artifacts.Backend = "memory"
	cfg.Audit.Backend = "memory"
	cfg.Records.Source = "sample"

	tel, err := telemetry.New(&cfg.Telemetry, "test")
	if err != nil {
		t.Fatalf("telemetry.New() failed: %v", err)
	}
	srv, err := server.New(context.Background(), cfg, tel, server.BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("server.New() failed: %v", err)
	}
	defer srv.Shutdown(context.Background())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/exports", "application/json", strings.NewReader(`{"format":"data","recordIds":["a1","a2","a3"]}`))
	if err != nil {
		t.Fatalf("POST /exports failed: %v", err)
	}
	var created struct {
		ExportID string `json:"exportId"`
	}
	err = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if err != nil || created.ExportID == "" {
		t.Fatalf("POST /exports returned no exportId: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reporter := &recordingReporter{}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Server.WebSocket.Path
	status, err := followExport(ctx, url, "", created.ExportID, reporter)
	if err != nil {
		t.Fatalf("followExport() failed: %v", err)
	}
	if status != export.StatusCompleted {
		t.Errorf("followExport() = %s, want completed", status)
	}
	if reporter.status != string(export.StatusCompleted) {
		t.Errorf("reporter finished with %q", reporter.status)
	}
	if n := len(reporter.updates); n == 0 || reporter.updates[n-1] != 100 {
		t.Errorf("progress updates = %v, want to end at 100", reporter.updates)
	}

	if _, err := followExport(ctx, url, "", "no-such-export", &recordingReporter{}); err == nil {
		t.Error("followExport() of unknown export succeeded")
	}
}
