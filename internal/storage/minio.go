package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jmylchreest/reelcast/internal/config"
)

const outputContentType = "video/mp4"

// MinioPublisher uploads outputs to an S3-compatible bucket.
type MinioPublisher struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinioPublisher connects to the object store and makes sure the bucket
// exists.
func NewMinioPublisher(ctx context.Context, cfg config.MinioConfig, logger *slog.Logger) (*MinioPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		logger.InfoContext(ctx, "created output bucket", slog.String("bucket", cfg.Bucket))
	}

	return &MinioPublisher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// Name implements Publisher.
func (p *MinioPublisher) Name() string { return "minio" }

// ObjectName returns the full object name for key.
func (p *MinioPublisher) ObjectName(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

// Publish uploads localPath and removes it. The reference is s3://bucket/object.
func (p *MinioPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	object := p.ObjectName(key)
	info, err := p.client.FPutObject(ctx, p.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: outputContentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", object, err)
	}

	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		p.logger.WarnContext(ctx, "failed to remove uploaded output",
			slog.String("path", localPath),
			slog.String("error", err.Error()))
	}

	p.logger.DebugContext(ctx, "uploaded output",
		slog.String("bucket", p.bucket),
		slog.String("object", object),
		slog.Int64("size", info.Size))

	return p.ref(object), nil
}

func (p *MinioPublisher) ref(object string) string {
	return fmt.Sprintf("s3://%s/%s", p.bucket, object)
}

// Remove deletes an object by the reference Publish returned. S3 treats a
// missing object as already deleted.
func (p *MinioPublisher) Remove(ctx context.Context, ref string) error {
	object, ok := strings.CutPrefix(ref, p.ref(""))
	if !ok || object == "" {
		return fmt.Errorf("reference %s is not in bucket %s", ref, p.bucket)
	}
	if err := p.client.RemoveObject(ctx, p.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing %s: %w", object, err)
	}
	return nil
}
