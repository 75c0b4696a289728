// Package repository provides the gorm-backed persistence used by the
// processing pipeline.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
)

// AssetRepository defines operations for asset persistence.
type AssetRepository interface {
	// Create inserts a new asset.
	Create(ctx context.Context, asset *models.Asset) error
	// Get returns the asset or models.ErrAssetNotFound.
	Get(ctx context.Context, id models.ULID) (*models.Asset, error)
	// UpdateFields applies a partial update in a single statement.
	UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error
	// UpdateFieldsIfIdle applies a partial update only while the asset is not
	// queued or processing. It reports false when the asset is active.
	UpdateFieldsIfIdle(ctx context.Context, id models.ULID, fields map[string]any) (bool, error)
	// CountActiveJobsFor counts the user's assets that are queued or processing.
	CountActiveJobsFor(ctx context.Context, userID string) (int64, error)
	// ListActive returns queued or processing assets last updated before the cutoff.
	ListActive(ctx context.Context, updatedBefore time.Time) ([]*models.Asset, error)
}

// JobRepository defines operations for the durable job table and its history.
type JobRepository interface {
	// Create inserts a job, rejecting it with models.ErrAssetBusy if the
	// asset already has an active job.
	Create(ctx context.Context, job *models.ProcessingJob) error
	GetByID(ctx context.Context, id models.ULID) (*models.ProcessingJob, error)
	// AcquireNext locks the best eligible job for workerID. Returns nil when
	// no job is eligible.
	AcquireNext(ctx context.Context, workerID string) (*models.ProcessingJob, error)
	Update(ctx context.Context, job *models.ProcessingJob) error
	HasActive(ctx context.Context, assetID models.ULID) (bool, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	// RecoverStale returns running jobs locked before the cutoff to pending.
	RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error)

	CreateHistory(ctx context.Context, history *models.JobHistory) error
	GetHistory(ctx context.Context, assetID models.ULID) ([]*models.JobHistory, error)
	// PruneFinished deletes completed and failed jobs settled before the cutoff.
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
	// PruneHistory deletes history rows completed before the cutoff.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}
