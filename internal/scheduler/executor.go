// Package scheduler runs processing jobs: a pool of workers pulling from a
// durable queue, a direct dispatcher used when no queue is reachable, and
// cron-driven queue maintenance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/pipeline"
	"github.com/jmylchreest/reelcast/internal/progress"
)

// Processor turns a job's source files into a published output.
type Processor interface {
	Process(ctx context.Context, job *models.ProcessingJob, report func(pct int)) (*pipeline.Result, error)
	// Discard removes anything staged for the job.
	Discard(job *models.ProcessingJob) error
	// Withdraw removes the outputs of a run whose success was not recorded.
	Withdraw(ctx context.Context, result *pipeline.Result) error
}

// AssetStore loads assets and applies the sink's partial updates.
type AssetStore interface {
	progress.AssetUpdater
	Get(ctx context.Context, id models.ULID) (*models.Asset, error)
}

// HistoryRecorder stores settled jobs.
type HistoryRecorder interface {
	CreateHistory(ctx context.Context, history *models.JobHistory) error
}

// Settler records how an attempt ended. queue.JobQueue satisfies it.
type Settler interface {
	Complete(ctx context.Context, job *models.ProcessingJob) error
	Fail(ctx context.Context, job *models.ProcessingJob, cause error) error
	Retry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error
}

// Outcome is how one attempt ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeRetrying    Outcome = "retrying"
	OutcomeFailed      Outcome = "failed"
	OutcomeDropped     Outcome = "dropped"
	OutcomeInterrupted Outcome = "interrupted"
)

// ErrInterrupted is the failure reason of a job stopped by shutdown that
// cannot be requeued.
var ErrInterrupted = errors.New("processing interrupted by shutdown")

// volatile is implemented by settlers whose jobs do not survive a restart.
type volatile interface {
	Volatile() bool
}

// settleTimeout bounds the writes made after an attempt, which run even when
// the attempt's own context has expired.
const settleTimeout = 30 * time.Second

// Executor runs a single attempt of a job and settles it.
type Executor struct {
	assets    AssetStore
	processor Processor
	history   HistoryRecorder
	logger    *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(assets AssetStore, processor Processor) *Executor {
	return &Executor{
		assets:    assets,
		processor: processor,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = observability.WithComponent(logger, "executor")
	return e
}

// WithHistory records a history row for every settled job.
func (e *Executor) WithHistory(history HistoryRecorder) *Executor {
	e.history = history
	return e
}

// Execute runs one attempt of job. The returned error reports a failure to
// persist the outcome, never the attempt's own failure.
func (e *Executor) Execute(ctx context.Context, settler Settler, job *models.ProcessingJob) (Outcome, error) {
	logger := observability.WithJob(e.logger, job.ID.String(), job.AssetID.String()).
		With(slog.Int("attempt", job.AttemptCount))

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	asset, err := e.assets.Get(ctx, job.AssetID)
	if errors.Is(err, models.ErrAssetNotFound) {
		return e.drop(settleCtx, settler, job, logger)
	}
	if err != nil {
		return e.retryOrFail(settleCtx, settler, job, nil, fmt.Errorf("loading asset: %w", err), logger)
	}

	sink := progress.NewSink(e.assets, asset, logger)
	baseline := 0
	if job.MergedPath != "" {
		baseline = progress.MergeCeiling
	}
	if err := sink.Start(ctx, baseline); err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			return e.drop(settleCtx, settler, job, logger)
		}
		logger.Warn("failed to mark asset processing", slog.String("error", err.Error()))
	}

	logger.Info("processing job",
		slog.Int("files", len(job.SourceFiles)),
		slog.Bool("resumed", job.MergedPath != ""))

	result, err := e.processor.Process(ctx, job, sink.Reporter(ctx))
	if err == nil {
		return e.complete(settleCtx, settler, job, sink, result, logger)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		if v, ok := settler.(volatile); ok && v.Volatile() {
			return e.retryOrFail(settleCtx, settler, job, sink, ErrInterrupted, logger)
		}
		return e.interrupt(settleCtx, settler, job, logger)
	}
	return e.retryOrFail(settleCtx, settler, job, sink, err, logger)
}

func (e *Executor) complete(
	ctx context.Context,
	settler Settler,
	job *models.ProcessingJob,
	sink *progress.Sink,
	result *pipeline.Result,
	logger *slog.Logger,
) (Outcome, error) {
	if err := sink.Complete(ctx, result.OutputPath, result.ThumbnailPath); err != nil {
		// Nothing references the published files now; a retry publishes again.
		if werr := e.processor.Withdraw(ctx, result); werr != nil {
			logger.Warn("failed to withdraw published output",
				slog.String("output", result.OutputPath),
				slog.String("withdraw_error", werr.Error()))
		}
		return e.retryOrFail(ctx, settler, job, sink, err, logger)
	}
	if err := settler.Complete(ctx, job); err != nil {
		return OutcomeCompleted, fmt.Errorf("completing job: %w", err)
	}

	logger.Info("job completed",
		slog.String("output", result.OutputPath),
		slog.Duration("elapsed", result.Elapsed))
	e.record(ctx, job, result.OutputPath, logger)
	return OutcomeCompleted, nil
}

// retryOrFail retries transient errors while attempts remain and fails the
// job otherwise. sink is nil when the asset was never moved to processing.
func (e *Executor) retryOrFail(
	ctx context.Context,
	settler Settler,
	job *models.ProcessingJob,
	sink *progress.Sink,
	cause error,
	logger *slog.Logger,
) (Outcome, error) {
	logger = observability.WithError(logger, cause)
	if stage := pipeline.StageOf(cause); stage != "" {
		logger = logger.With(slog.String("stage", stage))
	}

	if pipeline.IsRetryable(cause) && job.HasAttemptsLeft() {
		job.LastError = cause.Error()
		delay := job.CalculateNextBackoff()
		if err := settler.Retry(ctx, job, delay); err != nil {
			return OutcomeRetrying, fmt.Errorf("scheduling retry: %w", err)
		}
		logger.Warn("job attempt failed, retrying",
			slog.Duration("backoff", delay),
			slog.Int("max_attempts", job.MaxAttempts))
		return OutcomeRetrying, nil
	}

	if sink != nil {
		if err := sink.Fail(ctx, cause.Error()); err != nil {
			logger.Warn("failed to mark asset failed", slog.String("sink_error", err.Error()))
		}
	}
	if err := settler.Fail(ctx, job, cause); err != nil {
		return OutcomeFailed, fmt.Errorf("failing job: %w", err)
	}
	if err := e.processor.Discard(job); err != nil {
		logger.Warn("failed to discard staged files", slog.String("discard_error", err.Error()))
	}

	logger.Error("job failed", slog.Bool("retryable", pipeline.IsRetryable(cause)))
	e.record(ctx, job, "", logger)
	return OutcomeFailed, nil
}

// drop settles a job whose asset no longer exists. No asset fields are written.
func (e *Executor) drop(ctx context.Context, settler Settler, job *models.ProcessingJob, logger *slog.Logger) (Outcome, error) {
	logger.Warn("asset no longer exists, dropping job")
	if err := settler.Fail(ctx, job, models.ErrAssetNotFound); err != nil {
		return OutcomeDropped, fmt.Errorf("dropping job: %w", err)
	}
	if err := e.processor.Discard(job); err != nil {
		logger.Warn("failed to discard staged files", slog.String("error", err.Error()))
	}
	return OutcomeDropped, nil
}

// interrupt returns a job cut short by shutdown to the queue without
// counting the attempt. The asset keeps its processing state and progress.
func (e *Executor) interrupt(ctx context.Context, settler Settler, job *models.ProcessingJob, logger *slog.Logger) (Outcome, error) {
	job.AttemptCount = max(job.AttemptCount-1, 0)
	if err := settler.Retry(ctx, job, 0); err != nil {
		return OutcomeInterrupted, fmt.Errorf("requeueing interrupted job: %w", err)
	}
	logger.Info("job interrupted by shutdown, requeued")
	return OutcomeInterrupted, nil
}

func (e *Executor) record(ctx context.Context, job *models.ProcessingJob, output string, logger *slog.Logger) {
	if e.history == nil {
		return
	}
	if err := e.history.CreateHistory(ctx, models.NewJobHistory(job, output)); err != nil {
		logger.Error("failed to create job history", slog.String("history_error", err.Error()))
	}
}
