package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/queue"
)

// Runner manages a pool of workers that pull jobs from a durable queue.
type Runner struct {
	mu sync.RWMutex

	queue    queue.JobQueue
	executor *Executor
	logger   *slog.Logger

	workerCount  int
	pollInterval time.Duration
	workerID     string
	jobTimeout   time.Duration

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   map[string]models.ULID
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers.
	// Default: 1
	WorkerCount int

	// PollInterval is how long an idle worker waits before polling again.
	// Default: 2 seconds
	PollInterval time.Duration

	// WorkerID prefixes the lock owner of every worker in this process.
	// Default: randomly generated
	WorkerID string

	// JobTimeout is the maximum duration of a single attempt.
	// Default: 2 hours
	JobTimeout time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  1,
		PollInterval: 2 * time.Second,
		WorkerID:     "worker-" + uuid.NewString()[:8],
		JobTimeout:   2 * time.Hour,
	}
}

// NewRunner creates a new job runner.
func NewRunner(q queue.JobQueue, executor *Executor) *Runner {
	config := DefaultRunnerConfig()
	return &Runner{
		queue:        q,
		executor:     executor,
		logger:       slog.Default(),
		workerCount:  config.WorkerCount,
		pollInterval: config.PollInterval,
		workerID:     config.WorkerID,
		jobTimeout:   config.JobTimeout,
		busy:         make(map[string]models.ULID),
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig applies configuration to the runner.
func (r *Runner) WithConfig(config RunnerConfig) *Runner {
	if config.WorkerCount > 0 {
		r.workerCount = config.WorkerCount
	}
	if config.PollInterval > 0 {
		r.pollInterval = config.PollInterval
	}
	if config.WorkerID != "" {
		r.workerID = config.WorkerID
	}
	if config.JobTimeout > 0 {
		r.jobTimeout = config.JobTimeout
	}
	return r
}

// Start begins the runner with the configured number of workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := range r.workerCount {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(r.ctx, workerID)
	}

	r.logger.Info("runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.Duration("job_timeout", r.jobTimeout),
		slog.String("worker_id", r.workerID))

	return nil
}

// Run starts the runner and blocks until ctx is cancelled and every worker
// has returned.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return nil
}

// Stop stops the runner and waits for workers to finish. In-flight jobs are
// cancelled and requeued by the executor.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

func (r *Runner) worker(ctx context.Context, workerID string) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		default:
		}

		err := r.processNext(ctx, workerID)
		if err == nil {
			continue
		}
		if !errors.Is(err, queue.ErrNoJobs) && ctx.Err() == nil {
			r.logger.Error("error processing job",
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.pollInterval):
		}
	}
}

// processNext acquires and executes a single job.
func (r *Runner) processNext(ctx context.Context, workerID string) error {
	job, err := r.queue.Acquire(ctx, workerID)
	if err != nil {
		if errors.Is(err, queue.ErrNoJobs) {
			return err
		}
		return fmt.Errorf("acquiring job: %w", err)
	}

	r.setBusy(workerID, job.ID)
	defer r.clearBusy(workerID)

	r.logger.Debug("acquired job",
		slog.String("worker_id", workerID),
		slog.String("job_id", job.ID.String()),
		slog.String("asset_id", job.AssetID.String()))

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	if _, err := r.executor.Execute(jobCtx, r.queue, job); err != nil {
		return fmt.Errorf("executing job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Runner) setBusy(workerID string, jobID models.ULID) {
	r.mu.Lock()
	r.busy[workerID] = jobID
	r.mu.Unlock()
}

func (r *Runner) clearBusy(workerID string) {
	r.mu.Lock()
	delete(r.busy, workerID)
	r.mu.Unlock()
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RunnerStatus{
		Running:      r.ctx != nil && r.ctx.Err() == nil,
		WorkerCount:  r.workerCount,
		WorkerID:     r.workerID,
		BusyWorkers:  len(r.busy),
		PollInterval: r.pollInterval,
	}
}

// RunnerStatus represents the current state of the runner.
type RunnerStatus struct {
	Running      bool          `json:"running"`
	WorkerCount  int           `json:"worker_count"`
	WorkerID     string        `json:"worker_id"`
	BusyWorkers  int           `json:"busy_workers"`
	PollInterval time.Duration `json:"poll_interval"`
}
