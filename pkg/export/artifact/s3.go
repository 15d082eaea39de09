package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mercator-hq/exporter/pkg/export"
)

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Prefix          string // key prefix inside the bucket
	UseSSL          bool
}

// ObjectStorage stores artifacts in an S3-compatible bucket.
type ObjectStorage struct {
	client *minio.Client
	config *S3Config
	logger *slog.Logger
}

// NewObjectStorage connects to the object store and creates the bucket if
// it does not exist.
func NewObjectStorage(ctx context.Context, config *S3Config) (*ObjectStorage, error) {
	if config == nil || config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, export.NewStorageError("s3", "connect", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, export.NewStorageError("s3", "bucket_exists", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, export.NewStorageError("s3", "make_bucket", err)
		}
	}

	logger := slog.Default().With("component", "export.artifact.s3")
	logger.Info("object artifact storage initialized",
		"endpoint", config.Endpoint,
		"bucket", config.Bucket,
		"prefix", config.Prefix,
	)

	return &ObjectStorage{client: client, config: config, logger: logger}, nil
}

// Backend implements export.ArtifactStorage.
func (s *ObjectStorage) Backend() string { return "s3" }

func (s *ObjectStorage) objectKey(handle string) string {
	return s.config.Prefix + handle
}

// Put implements export.ArtifactStorage.
func (s *ObjectStorage) Put(ctx context.Context, key, mediaType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.config.Bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mediaType})
	if err != nil {
		return "", export.NewStorageError("s3", "put", err)
	}
	s.logger.Debug("artifact stored", "handle", key, "bytes", len(data))
	return key, nil
}

// Open implements export.ArtifactStorage.
func (s *ObjectStorage) Open(ctx context.Context, handle string) (io.ReadCloser, *export.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.config.Bucket, s.objectKey(handle), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, export.NewStorageError("s3", "open", err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, export.NewStorageError("s3", "open", export.ErrArtifactNotFound)
		}
		return nil, nil, export.NewStorageError("s3", "stat", err)
	}

	mediaType := st.ContentType
	if mediaType == "" {
		mediaType = MediaTypeFor(handle)
	}
	return obj, &export.ObjectInfo{
		Handle:    handle,
		Size:      st.Size,
		MediaType: mediaType,
		ModTime:   st.LastModified,
	}, nil
}

// Delete implements export.ArtifactStorage.
func (s *ObjectStorage) Delete(ctx context.Context, handle string) error {
	err := s.client.RemoveObject(ctx, s.config.Bucket, s.objectKey(handle), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return export.NewStorageError("s3", "delete", err)
	}
	return nil
}

// ListOlderThan implements export.ArtifactStorage.
func (s *ObjectStorage) ListOlderThan(ctx context.Context, cutoff time.Time) ([]export.ObjectInfo, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    s.config.Prefix,
		Recursive: true,
	}

	var out []export.ObjectInfo
	for object := range s.client.ListObjects(ctx, s.config.Bucket, opts) {
		if object.Err != nil {
			return nil, export.NewStorageError("s3", "list", object.Err)
		}
		if !object.LastModified.Before(cutoff) {
			continue
		}
		handle := object.Key[len(s.config.Prefix):]
		out = append(out, export.ObjectInfo{
			Handle:    handle,
			Size:      object.Size,
			MediaType: MediaTypeFor(handle),
			ModTime:   object.LastModified,
		})
	}
	return out, nil
}

// Ping verifies the bucket is reachable.
func (s *ObjectStorage) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.config.Bucket); err != nil {
		return export.NewStorageError("s3", "ping", err)
	}
	return nil
}
