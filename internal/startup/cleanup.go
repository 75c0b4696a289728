// Package startup holds the recovery tasks run before workers start taking
// jobs.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/progress"
	"github.com/jmylchreest/reelcast/internal/repository"
)

// InterruptedMessage is written to assets whose job was lost by a restart.
const InterruptedMessage = "processing interrupted by server restart"

// DefaultCleanupAge is the minimum age of an orphaned work directory before
// it is removed.
const DefaultCleanupAge = 6 * time.Hour

// ActiveFunc reports whether the queue still holds a job for the asset.
type ActiveFunc func(ctx context.Context, assetID models.ULID) (bool, error)

// CleanupOrphanedWorkDirs removes per-asset work directories older than
// maxAge whose asset has no active job. Directories that are not named by an
// asset ID are left alone.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedWorkDirs(ctx context.Context, logger *slog.Logger, workDir string, maxAge time.Duration, active ActiveFunc) (int, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("work directory does not exist, skipping cleanup", slog.String("path", workDir))
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		assetID, err := models.ParseULID(entry.Name())
		if err != nil {
			continue
		}

		dirPath := filepath.Join(workDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info",
				slog.String("path", dirPath),
				slog.String("error", err.Error()))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		// A job waiting on a retry reuses its merged file.
		inUse, err := active(ctx, assetID)
		if err != nil {
			logger.Warn("failed to check asset job, keeping work directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()))
			continue
		}
		if inUse {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned work directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()))
			continue
		}

		logger.Info("removed orphaned work directory",
			slog.String("path", dirPath),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
	}

	return removed, nil
}

// RecoverOrphanedAssets fails assets left queued or processing by a job that
// no longer exists, such as an in-process job lost when the server stopped.
// Only assets untouched for longer than staleAfter are considered, so jobs
// run by other live instances are not affected.
//
// Returns the number of assets recovered and any error encountered.
func RecoverOrphanedAssets(ctx context.Context, logger *slog.Logger, assets repository.AssetRepository, active ActiveFunc, staleAfter time.Duration) (int, error) {
	stuck, err := assets.ListActive(ctx, models.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}

	var recovered int
	for _, asset := range stuck {
		inQueue, err := active(ctx, asset.ID)
		if err != nil {
			logger.Warn("failed to check asset job, leaving status",
				slog.String("asset_id", asset.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if inQueue {
			continue
		}

		logger.Warn("recovering orphaned asset",
			slog.String("asset_id", asset.ID.String()),
			slog.String("status", string(asset.Status)),
			slog.Int("progress", asset.Progress))

		sink := progress.NewSink(assets, asset, logger)
		if err := sink.Fail(ctx, InterruptedMessage); err != nil {
			logger.Error("failed to recover orphaned asset",
				slog.String("asset_id", asset.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		recovered++
	}

	return recovered, nil
}
