package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mercator-hq/exporter/pkg/export"
)

// FileStorage stores artifacts as files below a root directory. Handles are
// slash-separated paths relative to the root.
type FileStorage struct {
	root   string
	logger *slog.Logger
}

// NewFileStorage creates the root directory if needed and returns a storage
// rooted there.
func NewFileStorage(root string) (*FileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, export.NewStorageError("filesystem", "init", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, export.NewStorageError("filesystem", "init", err)
	}

	logger := slog.Default().With("component", "export.artifact.filesystem")
	logger.Info("filesystem artifact storage initialized", "root", abs)

	return &FileStorage{root: abs, logger: logger}, nil
}

// Backend implements export.ArtifactStorage.
func (s *FileStorage) Backend() string { return "filesystem" }

// path resolves a handle to an absolute path inside the root.
func (s *FileStorage) path(handle string) (string, error) {
	if handle == "" || strings.Contains(handle, "\\") {
		return "", fmt.Errorf("invalid artifact handle %q", handle)
	}
	clean := filepath.Clean(filepath.FromSlash(handle))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid artifact handle %q", handle)
	}
	return filepath.Join(s.root, clean), nil
}

// Put implements export.ArtifactStorage. The file is written to a temporary
// name and renamed into place so readers never observe partial content.
func (s *FileStorage) Put(ctx context.Context, key, mediaType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", export.NewStorageError("filesystem", "put", err)
	}
	target, err := s.path(key)
	if err != nil {
		return "", export.NewStorageError("filesystem", "put", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", export.NewStorageError("filesystem", "put", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", export.NewStorageError("filesystem", "put", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", export.NewStorageError("filesystem", "put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", export.NewStorageError("filesystem", "put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", export.NewStorageError("filesystem", "put", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", export.NewStorageError("filesystem", "put", err)
	}

	s.logger.Debug("artifact stored", "handle", key, "bytes", len(data))
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(key))), nil
}

// Open implements export.ArtifactStorage.
func (s *FileStorage) Open(ctx context.Context, handle string) (io.ReadCloser, *export.ObjectInfo, error) {
	p, err := s.path(handle)
	if err != nil {
		return nil, nil, export.NewStorageError("filesystem", "open", err)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, export.NewStorageError("filesystem", "open", export.ErrArtifactNotFound)
		}
		return nil, nil, export.NewStorageError("filesystem", "open", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, export.NewStorageError("filesystem", "stat", err)
	}

	return f, &export.ObjectInfo{
		Handle:    handle,
		Size:      st.Size(),
		MediaType: MediaTypeFor(handle),
		ModTime:   st.ModTime(),
	}, nil
}

// Delete implements export.ArtifactStorage.
func (s *FileStorage) Delete(ctx context.Context, handle string) error {
	p, err := s.path(handle)
	if err != nil {
		return export.NewStorageError("filesystem", "delete", err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return export.NewStorageError("filesystem", "delete", err)
	}

	// Best effort removal of now-empty parent directories.
	for dir := filepath.Dir(p); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// ListOlderThan implements export.ArtifactStorage.
func (s *FileStorage) ListOlderThan(ctx context.Context, cutoff time.Time) ([]export.ObjectInfo, error) {
	var out []export.ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		handle := filepath.ToSlash(rel)
		out = append(out, export.ObjectInfo{
			Handle:    handle,
			Size:      info.Size(),
			MediaType: MediaTypeFor(handle),
			ModTime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, export.NewStorageError("filesystem", "list", err)
	}
	return out, nil
}

// Ping verifies the root directory is writable.
func (s *FileStorage) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(s.root, ".upload-ping-*")
	if err != nil {
		return export.NewStorageError("filesystem", "ping", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
