package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/queue"
)

// DirectDispatcher runs jobs in-process, one attempt each, when no durable
// queue is available. Jobs are lost on restart.
type DirectDispatcher struct {
	executor   *Executor
	logger     *slog.Logger
	jobTimeout time.Duration

	base context.Context
	mu   sync.Mutex
	busy map[models.ULID]models.ULID
	wg   sync.WaitGroup
}

// NewDirectDispatcher creates a dispatcher whose jobs live as long as base.
func NewDirectDispatcher(base context.Context, executor *Executor, jobTimeout time.Duration) *DirectDispatcher {
	if jobTimeout <= 0 {
		jobTimeout = DefaultRunnerConfig().JobTimeout
	}
	return &DirectDispatcher{
		executor:   executor,
		logger:     slog.Default(),
		jobTimeout: jobTimeout,
		base:       base,
		busy:       make(map[models.ULID]models.ULID),
	}
}

// WithLogger sets a custom logger.
func (d *DirectDispatcher) WithLogger(logger *slog.Logger) *DirectDispatcher {
	d.logger = logger
	return d
}

// Dispatch starts job in a goroutine. It returns queue.ErrAssetBusy if the
// asset already has a job running in this process.
func (d *DirectDispatcher) Dispatch(job *models.ProcessingJob) error {
	d.mu.Lock()
	if _, ok := d.busy[job.AssetID]; ok {
		d.mu.Unlock()
		return queue.ErrAssetBusy
	}
	d.busy[job.AssetID] = job.ID
	d.mu.Unlock()

	job.MaxAttempts = 1
	job.MarkRunning("direct")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(job.AssetID)

		ctx, cancel := context.WithTimeout(d.base, d.jobTimeout)
		defer cancel()

		outcome, err := d.executor.Execute(ctx, directSettler{}, job)
		if err != nil {
			d.logger.Error("direct job settle failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
			return
		}
		d.logger.Debug("direct job finished",
			slog.String("job_id", job.ID.String()),
			slog.String("outcome", string(outcome)))
	}()
	return nil
}

func (d *DirectDispatcher) release(assetID models.ULID) {
	d.mu.Lock()
	delete(d.busy, assetID)
	d.mu.Unlock()
}

// IsActive reports whether the asset has a job running in this process.
func (d *DirectDispatcher) IsActive(assetID models.ULID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.busy[assetID]
	return ok
}

// InFlight returns the number of running jobs.
func (d *DirectDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.busy)
}

// Wait blocks until every dispatched job has returned.
func (d *DirectDispatcher) Wait() {
	d.wg.Wait()
}

// directSettler keeps outcomes on the job itself; there is no queue to update.
type directSettler struct{}

func (directSettler) Complete(_ context.Context, job *models.ProcessingJob) error {
	job.MarkCompleted()
	return nil
}

func (directSettler) Fail(_ context.Context, job *models.ProcessingJob, cause error) error {
	job.MarkFailed(cause)
	return nil
}

func (directSettler) Volatile() bool { return true }

// Retry is unreachable while MaxAttempts is 1; settle as failed regardless.
func (directSettler) Retry(_ context.Context, job *models.ProcessingJob, _ time.Duration) error {
	job.MarkFailed(nil)
	return nil
}
