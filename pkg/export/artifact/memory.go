package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"mercator-hq/exporter/pkg/export"
)

var mediaTypes = map[string]string{
	".json": "application/json",
	".csv":  "text/csv",
	".md":   "text/markdown; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
}

// MediaTypeFor guesses the media type of a handle from its extension.
func MediaTypeFor(handle string) string {
	if mt, ok := mediaTypes[strings.ToLower(path.Ext(handle))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Key builds the storage key of an artifact: a date partition, the job ID
// and the file name.
func Key(jobID, fileName string, created time.Time) string {
	return path.Join(created.UTC().Format("2006/01/02"), jobID, fileName)
}

// JobIDFromKey extracts the job ID from a key built by Key.
func JobIDFromKey(key string) (string, bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 5 || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}

type memoryObject struct {
	data      []byte
	mediaType string
	modTime   time.Time
}

// MemoryStorage keeps artifacts in memory. Intended for tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
	now     func() time.Time

	// FailPut makes Put fail, for exercising persistence errors.
	FailPut error
}

// NewMemoryStorage creates an empty in-memory artifact storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]*memoryObject), now: time.Now}
}

// Backend implements export.ArtifactStorage.
func (s *MemoryStorage) Backend() string { return "memory" }

// Ping always succeeds.
func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }

// Put implements export.ArtifactStorage.
func (s *MemoryStorage) Put(ctx context.Context, key, mediaType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPut != nil {
		return "", export.NewStorageError("memory", "put", s.FailPut)
	}
	if key == "" {
		return "", export.NewStorageError("memory", "put", fmt.Errorf("empty key"))
	}
	s.objects[key] = &memoryObject{
		data:      bytes.Clone(data),
		mediaType: mediaType,
		modTime:   s.now(),
	}
	return key, nil
}

// Open implements export.ArtifactStorage.
func (s *MemoryStorage) Open(ctx context.Context, handle string) (io.ReadCloser, *export.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[handle]
	if !ok {
		return nil, nil, export.NewStorageError("memory", "open", export.ErrArtifactNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), &export.ObjectInfo{
		Handle:    handle,
		Size:      int64(len(obj.data)),
		MediaType: obj.mediaType,
		ModTime:   obj.modTime,
	}, nil
}

// Delete implements export.ArtifactStorage.
func (s *MemoryStorage) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, handle)
	return nil
}

// ListOlderThan implements export.ArtifactStorage.
func (s *MemoryStorage) ListOlderThan(ctx context.Context, cutoff time.Time) ([]export.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []export.ObjectInfo
	for handle, obj := range s.objects {
		if obj.modTime.Before(cutoff) {
			out = append(out, export.ObjectInfo{
				Handle:    handle,
				Size:      int64(len(obj.data)),
				MediaType: obj.mediaType,
				ModTime:   obj.modTime,
			})
		}
	}
	return out, nil
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// SetClock overrides the time source used for modification times.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
