package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/export"
)

func TestMemorySource_Fetch(t *testing.T) {
	src := NewMemorySource(SampleRecords()...)

	rec, err := src.Fetch(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Fetch(a1) failed: %v", err)
	}
	if rec.ID != "a1" {
		t.Errorf("ID = %q, want a1", rec.ID)
	}

	_, err = src.Fetch(context.Background(), "missing-1")
	if !errors.Is(err, export.ErrRecordNotFound) {
		t.Fatalf("Fetch(missing-1) error = %v, want ErrRecordNotFound", err)
	}
	if !strings.Contains(err.Error(), "retrieval") {
		t.Errorf("error %q does not mention retrieval", err.Error())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	data, _ := json.Marshal(SampleRecords())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if src.Len() != len(SampleRecords()) {
		t.Errorf("Len() = %d, want %d", src.Len(), len(SampleRecords()))
	}
}

func newTestHTTPSource(t *testing.T, url string) *HTTPSource {
	t.Helper()
	cfg := DefaultHTTPConfig()
	cfg.BaseURL = url
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 3
	src, err := NewHTTPSource(cfg)
	if err != nil {
		t.Fatalf("NewHTTPSource() failed: %v", err)
	}
	return src
}

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header")
		}
		switch r.URL.Path {
		case "/records/a1":
			json.NewEncoder(w).Encode(export.Record{ID: "a1", Verdict: "clean"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL)

	rec, err := src.Fetch(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Fetch(a1) failed: %v", err)
	}
	if rec.Verdict != "clean" {
		t.Errorf("Verdict = %q, want clean", rec.Verdict)
	}

	_, err = src.Fetch(context.Background(), "missing-1")
	if !errors.Is(err, export.ErrRecordNotFound) {
		t.Errorf("Fetch(missing-1) error = %v, want ErrRecordNotFound", err)
	}
}

func TestHTTPSource_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(export.Record{ID: "a1"})
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL)

	if _, err := src.Fetch(context.Background(), "a1"); err != nil {
		t.Fatalf("Fetch() failed after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestHTTPSource_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL)

	if _, err := src.Fetch(context.Background(), "missing-1"); err == nil {
		t.Fatal("Fetch() succeeded, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestNewHTTPSource_RequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPSource(&HTTPConfig{}); err == nil {
		t.Error("NewHTTPSource() with empty base URL succeeded, want error")
	}
}
