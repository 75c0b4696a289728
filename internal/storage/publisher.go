package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jmylchreest/reelcast/internal/config"
)

// Publisher makes a finished local output available under key and returns
// the reference stored on the asset.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
	// Remove deletes a previously published reference. A reference that is
	// already gone is not an error.
	Remove(ctx context.Context, ref string) error
	Name() string
}

// NewPublisher builds the publisher selected by cfg.Publisher.
func NewPublisher(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Publisher, error) {
	switch cfg.Publisher {
	case config.PublisherMinio:
		return NewMinioPublisher(ctx, cfg.Minio, logger)
	case config.PublisherLocal, "":
		return NewLocalPublisher(cfg.OutputPath())
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Publisher)
	}
}

// ObjectKey builds the storage key for an asset output: <asset>/<job><ext>.
func ObjectKey(assetID, jobID, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(assetID, jobID+ext)
}
