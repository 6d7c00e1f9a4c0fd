package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/freshgroup/dashboard/backend/logger"
)

// MinIOClient archives raw dataset uploads in a single bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
	log    *logger.Logger

	mu          sync.Mutex
	bucketReady bool
}

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(config MinIOConfig, log *logger.Logger) (*MinIOClient, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &MinIOClient{
		client: minioClient,
		bucket: config.Bucket,
		log:    log.With("component", "minio", "bucket", config.Bucket),
	}, nil
}

// ObjectKey builds a unique key for an upload: uploads/<yyyy>/<mm>/<uuid>_<filename>.
func ObjectKey(filename string, at time.Time) string {
	name := path.Base(filename)
	return path.Join("uploads", at.Format("2006"), at.Format("01"), uuid.NewString()+"_"+name)
}

// ensureBucket creates the bucket on first successful use.
func (m *MinIOClient) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		m.log.Info("Creating MinIO bucket")
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	m.bucketReady = true
	return nil
}

// Archive stores data under key.
func (m *MinIOClient) Archive(ctx context.Context, key string, data []byte, contentType string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	m.log.Debug("Archived upload", "key", key, "size", info.Size)
	return nil
}

// Open streams an archived object. The caller closes the reader.
func (m *MinIOClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are written.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return object, nil
}

// Remove deletes an archived object.
func (m *MinIOClient) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	m.log.Debug("Removed archived upload", "key", key)
	return nil
}
