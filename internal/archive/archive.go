// Package archive mirrors accepted artifacts to S3-compatible object
// storage. It is an optional tier behind the local disk store, exercised by
// the background worker only.
package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dkoval/imagevault/internal/config"
)

// Archiver wraps the MinIO client for the archive bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Archiver, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Archiver{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Put uploads the stored file at path under objectKey.
func (a *Archiver) Put(ctx context.Context, objectKey, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat stored file: %w", err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := a.client.PutObject(ctx, a.bucket, objectKey, f, info.Size(), opts); err != nil {
		return fmt.Errorf("upload archive object: %w", err)
	}
	return nil
}
