package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/export"
)

func TestKey(t *testing.T) {
	created := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	got := Key("job-1", "export-job-1.json", created)
	if got != "2025/03/09/job-1/export-job-1.json" {
		t.Errorf("Key() = %q", got)
	}

	id, ok := JobIDFromKey(got)
	if !ok || id != "job-1" {
		t.Errorf("JobIDFromKey(%q) = %q, %v, want job-1, true", got, id, ok)
	}
	if _, ok := JobIDFromKey("stray.json"); ok {
		t.Error("JobIDFromKey(stray.json) succeeded, want false")
	}
}

func TestMediaTypeFor(t *testing.T) {
	tests := map[string]string{
		"a/b.json": "application/json",
		"a/b.CSV":  "text/csv",
		"x.md":     "text/markdown; charset=utf-8",
		"x.bin":    "application/octet-stream",
	}
	for handle, want := range tests {
		if got := MediaTypeFor(handle); got != want {
			t.Errorf("MediaTypeFor(%q) = %q, want %q", handle, got, want)
		}
	}
}

func TestFileStorage_PutOpenDelete(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStorage(root)
	if err != nil {
		t.Fatalf("NewFileStorage() failed: %v", err)
	}
	ctx := context.Background()

	handle, err := s.Put(ctx, "2025/01/01/job-1/export.json", "application/json", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	rc, info, err := s.Open(ctx, handle)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != `{"ok":true}` {
		t.Errorf("content = %q", data)
	}
	if info.Size != int64(len(data)) || info.MediaType != "application/json" {
		t.Errorf("info = %+v", info)
	}

	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, _, err := s.Open(ctx, handle); !errors.Is(err, export.ErrArtifactNotFound) {
		t.Errorf("Open() after delete error = %v, want ErrArtifactNotFound", err)
	}
	if err := s.Delete(ctx, handle); err != nil {
		t.Errorf("Delete() of missing artifact error = %v, want nil", err)
	}
	if _, err := os.Stat(filepath.Join(root, "2025")); !os.IsNotExist(err) {
		t.Error("empty partition directories were not removed")
	}
}

func TestFileStorage_RejectsEscapingHandles(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage() failed: %v", err)
	}

	for _, handle := range []string{"../outside.json", "/etc/passwd", "", "a/../../b"} {
		if _, err := s.Put(context.Background(), handle, "text/plain", []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", handle)
		}
	}
}

func TestFileStorage_ListOlderThan(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStorage(root)
	if err != nil {
		t.Fatalf("NewFileStorage() failed: %v", err)
	}
	ctx := context.Background()

	oldHandle, _ := s.Put(ctx, "old/a.csv", "text/csv", []byte("a"))
	newHandle, _ := s.Put(ctx, "new/b.csv", "text/csv", []byte("b"))

	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, "old", "a.csv"), past, past); err != nil {
		t.Fatalf("Chtimes() failed: %v", err)
	}

	objs, err := s.ListOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListOlderThan() failed: %v", err)
	}
	if len(objs) != 1 || objs[0].Handle != oldHandle {
		t.Errorf("ListOlderThan() = %+v, want only %s (not %s)", objs, oldHandle, newHandle)
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	handle, err := s.Put(ctx, "k/x.json", "application/json", []byte("{}"))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	rc, info, err := s.Open(ctx, handle)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	rc.Close()
	if info.Size != 2 {
		t.Errorf("Size = %d, want 2", info.Size)
	}

	s.FailPut = errors.New("disk full")
	if _, err := s.Put(ctx, "k/y.json", "application/json", []byte("{}")); err == nil {
		t.Error("Put() with FailPut succeeded, want error")
	}
}
