package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/repository"
)

// DatabaseQueue implements JobQueue on the processing_jobs table.
type DatabaseQueue struct {
	jobs repository.JobRepository
	ping func(ctx context.Context) error
}

// NewDatabaseQueue creates a queue over jobs. ping checks the underlying
// connection; pass nil if the repository is always reachable.
func NewDatabaseQueue(jobs repository.JobRepository, ping func(ctx context.Context) error) *DatabaseQueue {
	return &DatabaseQueue{jobs: jobs, ping: ping}
}

func (q *DatabaseQueue) Ping(ctx context.Context) error {
	if q.ping == nil {
		return nil
	}
	return q.ping(ctx)
}

func (q *DatabaseQueue) Enqueue(ctx context.Context, job *models.ProcessingJob) error {
	return q.jobs.Create(ctx, job)
}

func (q *DatabaseQueue) Acquire(ctx context.Context, workerID string) (*models.ProcessingJob, error) {
	job, err := q.jobs.AcquireNext(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNoJobs
	}
	return job, nil
}

func (q *DatabaseQueue) Complete(ctx context.Context, job *models.ProcessingJob) error {
	job.MarkCompleted()
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return nil
}

func (q *DatabaseQueue) Fail(ctx context.Context, job *models.ProcessingJob, cause error) error {
	job.MarkFailed(cause)
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	return nil
}

func (q *DatabaseQueue) Retry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	job.ScheduleRetry(nil, delay)
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("rescheduling job %s: %w", job.ID, err)
	}
	return nil
}

func (q *DatabaseQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	counts, err := q.jobs.CountByStatus(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}
	stats := models.QueueStats{
		Waiting:   counts[models.JobStatusPending] + counts[models.JobStatusScheduled],
		Active:    counts[models.JobStatusRunning],
		Completed: counts[models.JobStatusCompleted],
		Failed:    counts[models.JobStatusFailed],
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed
	return stats, nil
}

func (q *DatabaseQueue) HasActiveJob(ctx context.Context, assetID models.ULID) (bool, error) {
	return q.jobs.HasActive(ctx, assetID)
}

func (q *DatabaseQueue) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	return q.jobs.PruneFinished(ctx, before)
}

func (q *DatabaseQueue) RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	return q.jobs.RecoverStale(ctx, lockedBefore)
}
