// Package storage provides a small object storage adapter over MinIO (S3-compatible).
// It is used to archive raw lead documents and to back up rendered handover emails.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leadpipeline_backend/platform/config"
)

// ErrTooLarge is returned when an object exceeds the configured maximum size.
var ErrTooLarge = errors.New("object exceeds maximum size")

// ObjectStore is the subset of object storage the pipeline relies on.
type ObjectStore interface {
	// Put stores data under folder/name with a unique suffix and returns the object key.
	Put(ctx context.Context, bucket, folder, name, contentType string, data []byte) (string, error)
	// Get returns the object contents.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// EnsureBucket creates the bucket if it doesn't exist.
	EnsureBucket(ctx context.Context, bucket string) error
}

// MinIOStore implements ObjectStore using MinIO.
type MinIOStore struct {
	client      *minio.Client
	maxFileSize int64
	now         func() time.Time
}

// NewMinIOStore creates a new MinIO object store.
func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStore{
		client:      client,
		maxFileSize: cfg.GetMinIOMaxFileSize(),
		now:         time.Now,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// Put uploads data and returns the generated object key.
func (s *MinIOStore) Put(ctx context.Context, bucket, folder, name, contentType string, data []byte) (string, error) {
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return "", fmt.Errorf("%s: %d bytes: %w", name, len(data), ErrTooLarge)
	}

	key := ObjectKey(folder, name, s.now())
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return key, nil
}

// Get downloads an object into memory.
func (s *MinIOStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// ObjectKey builds "<folder>/<yyyy>/<mm>/<dd>/<base>_<uuid8><ext>".
// Keys are date-partitioned so archives can be expired by prefix.
func ObjectKey(folder, name string, at time.Time) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "object"
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	unique := fmt.Sprintf("%s_%s%s", base, uuid.New().String()[:8], ext)
	return path.Join(strings.Trim(folder, "/"), at.UTC().Format("2006/01/02"), unique)
}
