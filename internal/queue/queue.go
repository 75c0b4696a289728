// Package queue provides the durable job queues the workers pull from and
// the startup probe that decides which one, if any, is used.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
)

// ErrNoJobs is returned by Acquire when no job is eligible.
var ErrNoJobs = errors.New("no jobs available")

// ErrAssetBusy is returned by Enqueue when the asset already has an active job.
var ErrAssetBusy = models.ErrAssetBusy

// JobQueue is a durable queue of processing jobs. At most one pending,
// scheduled or running job exists per asset.
type JobQueue interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Enqueue adds a pending job or returns ErrAssetBusy.
	Enqueue(ctx context.Context, job *models.ProcessingJob) error
	// Acquire claims the highest priority eligible job, oldest first, and
	// marks it running under workerID. Returns ErrNoJobs when idle.
	Acquire(ctx context.Context, workerID string) (*models.ProcessingJob, error)
	// Complete settles the job as completed and releases its asset.
	Complete(ctx context.Context, job *models.ProcessingJob) error
	// Fail settles the job as failed with cause and releases its asset.
	Fail(ctx context.Context, job *models.ProcessingJob, cause error) error
	// Retry returns the job to the queue, eligible again after delay. The
	// asset stays owned by the job.
	Retry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error
	Stats(ctx context.Context) (models.QueueStats, error)
	HasActiveJob(ctx context.Context, assetID models.ULID) (bool, error)
	// PruneHistory removes settled jobs finished before the cutoff.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
	// RecoverStale returns jobs running under a lock older than the cutoff
	// to the waiting set.
	RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error)
}
