package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/reelcast/internal/models"
)

var (
	waitingStatuses  = []models.JobStatus{models.JobStatusPending, models.JobStatusScheduled}
	activeStatuses   = []models.JobStatus{models.JobStatusPending, models.JobStatusScheduled, models.JobStatusRunning}
	finishedStatuses = []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}
)

// acquireOrder picks the most important job first, then the one waiting longest.
const acquireOrder = "priority DESC, next_run_at ASC, created_at ASC"

// errAcquireRace is returned inside the acquire transaction when another
// worker claimed the selected row first.
var errAcquireRace = errors.New("job claimed by another worker")

const acquireAttempts = 3

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Create inserts a job unless its asset already has an active job. The
// unique index on active_asset_id decides between concurrent callers; the
// count beforehand only spares the losing insert in the common case.
func (r *jobRepo) Create(ctx context.Context, job *models.ProcessingJob) error {
	active, err := r.HasActive(ctx, job.AssetID)
	if err != nil {
		return err
	}
	if active {
		return models.ErrAssetBusy
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ErrAssetBusy
		}
		// Drivers without error translation report the raw constraint error.
		if busy, checkErr := r.HasActive(ctx, job.AssetID); checkErr == nil && busy {
			return models.ErrAssetBusy
		}
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID. Returns nil if it does not exist.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// AcquireNext atomically claims the best eligible job for workerID.
// Uses SELECT FOR UPDATE SKIP LOCKED where the dialect supports it and a
// status-guarded update everywhere, so two workers never run the same job.
func (r *jobRepo) AcquireNext(ctx context.Context, workerID string) (*models.ProcessingJob, error) {
	for range acquireAttempts {
		job, err := r.tryAcquire(ctx, workerID)
		if errors.Is(err, errAcquireRace) {
			continue
		}
		return job, err
	}
	return nil, nil
}

func (r *jobRepo) tryAcquire(ctx context.Context, workerID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	now := models.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Where("status IN ?", waitingStatuses).
			Where("(next_run_at IS NULL OR next_run_at <= ?)", now).
			Order(acquireOrder).
			Limit(1)
		if r.db.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		if err := query.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return fmt.Errorf("finding pending job: %w", err)
		}

		job.MarkRunning(workerID)

		result := tx.Model(&models.ProcessingJob{}).
			Where("id = ? AND status IN ?", job.ID, waitingStatuses).
			UpdateColumns(map[string]any{
				"status":        job.Status,
				"started_at":    job.StartedAt,
				"locked_by":     job.LockedBy,
				"locked_at":     job.LockedAt,
				"attempt_count": job.AttemptCount,
				"updated_at":    models.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("acquiring job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errAcquireRace
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Update saves every column of the job.
func (r *jobRepo) Update(ctx context.Context, job *models.ProcessingJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// HasActive reports whether the asset has a pending, scheduled or running job.
func (r *jobRepo) HasActive(ctx context.Context, assetID models.ULID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("asset_id = ? AND status IN ?", assetID, activeStatuses).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking active jobs: %w", err)
	}
	return count > 0, nil
}

// CountByStatus returns the number of jobs in each status.
func (r *jobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// RecoverStale releases running jobs whose lock is older than lockedBefore.
// The attempt they were on still counts.
func (r *jobRepo) RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, lockedBefore.UTC()).
		UpdateColumns(map[string]any{
			"status":      models.JobStatusPending,
			"locked_by":   "",
			"locked_at":   nil,
			"next_run_at": models.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recovering stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateHistory records a settled job.
func (r *jobRepo) CreateHistory(ctx context.Context, history *models.JobHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("creating job history: %w", err)
	}
	return nil
}

// GetHistory returns the history of an asset, newest first.
func (r *jobRepo) GetHistory(ctx context.Context, assetID models.ULID) ([]*models.JobHistory, error) {
	var history []*models.JobHistory
	if err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("completed_at DESC, created_at DESC").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("getting job history: %w", err)
	}
	return history, nil
}

// PruneFinished hard-deletes completed and failed jobs settled before the cutoff.
func (r *jobRepo) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("status IN ? AND completed_at < ?", finishedStatuses, before.UTC()).
		Delete(&models.ProcessingJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneHistory hard-deletes history rows completed before the cutoff.
func (r *jobRepo) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("completed_at < ?", before.UTC()).
		Delete(&models.JobHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting job history: %w", result.Error)
	}
	return result.RowsAffected, nil
}
