package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/english-check/backend/pkg/logger"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	// Region skips the bucket-location lookup when set.
	Region string
}

// MinioClient archives submitted audio clips.
type MinioClient struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(cfg Config) (*MinioClient, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive endpoint and bucket must be set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinioClient{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (mc *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := mc.client.BucketExists(ctx, mc.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket '%s' exists: %w", mc.bucket, err)
	}
	if exists {
		return nil
	}

	logger.Info("Archive bucket does not exist, creating it", zap.String("bucket", mc.bucket))
	if err := mc.client.MakeBucket(ctx, mc.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", mc.bucket, err)
	}
	return nil
}

// ObjectName is a fresh uuid keeping the original file extension.
func ObjectName(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	return uuid.New().String() + ext
}

// Archive uploads data and returns the object name.
func (mc *MinioClient) Archive(ctx context.Context, originalFilename string, data []byte, contentType string) (string, error) {
	objectName := ObjectName(originalFilename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := mc.client.PutObject(ctx, mc.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to archive (bucket: %s, object: %s): %w", mc.bucket, objectName, err)
	}

	logger.Debug("Archived audio",
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag),
	)
	return objectName, nil
}

func (mc *MinioClient) Delete(ctx context.Context, objectName string) error {
	if err := mc.client.RemoveObject(ctx, mc.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}
