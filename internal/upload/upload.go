// Package upload copies finished dataset files to S3-compatible object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/trafficlab/egorecorder/internal/config"
)

// ErrNoBucket is returned when the upload config names no bucket.
var ErrNoBucket = errors.New("no upload bucket configured")

// Uploader puts exported files under <prefix>/<session id>/ in a bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// New creates an uploader for the configured endpoint.
func New(cfg config.UploadConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, bucket, prefix string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    logger,
	}
}

// Key returns the object key for a file of the given session.
func (u *Uploader) Key(sessionID, file string) string {
	return path.Join(u.prefix, sessionID, filepath.Base(file))
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".gz":
		return "application/gzip"
	case ".db":
		return "application/vnd.sqlite3"
	default:
		return "application/octet-stream"
	}
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	u.log.Info("created upload bucket", "bucket", u.bucket)
	return nil
}

// Upload puts every file and returns the object keys written. Files that
// fail are skipped; their errors are joined.
func (u *Uploader) Upload(ctx context.Context, sessionID string, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := u.ensureBucket(ctx); err != nil {
		return nil, err
	}

	var (
		keys []string
		errs []error
	)
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			errs = append(errs, fmt.Errorf("skipping %s: %w", file, err))
			continue
		}
		key := u.Key(sessionID, file)
		info, err := u.client.FPutObject(ctx, u.bucket, key, file, minio.PutObjectOptions{
			ContentType: contentType(file),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to upload %s: %w", file, err))
			continue
		}
		u.log.Info("uploaded dataset file", "file", file, "bucket", u.bucket, "key", key, "size", info.Size)
		keys = append(keys, key)
	}
	return keys, errors.Join(errs...)
}
