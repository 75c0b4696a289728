// Package service exposes the processing operations used by the HTTP API:
// accepting jobs, reporting queue statistics and reporting asset progress.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/credits"
	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/progress"
	"github.com/jmylchreest/reelcast/internal/queue"
	"github.com/jmylchreest/reelcast/internal/repository"
)

// Dispatcher runs a job in-process. scheduler.DirectDispatcher satisfies it.
type Dispatcher interface {
	Dispatch(job *models.ProcessingJob) error
	IsActive(assetID models.ULID) bool
}

// EnqueueRequest asks for an asset's source files to be processed.
type EnqueueRequest struct {
	AssetID     models.ULID
	UserID      string
	SourceFiles []models.SourceFile
	Preferences models.StylePreferences
	// Priority overrides the configured default when set.
	Priority *int
	// Reprocess marks an explicit re-run of an existing upload. Re-runs are
	// not debited.
	Reprocess bool
}

// JobHandle identifies an accepted job.
type JobHandle struct {
	JobID   models.ULID `json:"job_id"`
	AssetID models.ULID `json:"asset_id"`
	Mode    queue.Mode  `json:"mode"`
}

// QueueStats reports queue counts with the execution mode in effect.
type QueueStats struct {
	models.QueueStats
	Mode       queue.Mode `json:"mode"`
	Annotation string     `json:"annotation,omitempty"`
}

// ProcessingStatus is the pipeline-owned view of an asset.
type ProcessingStatus struct {
	AssetID       models.ULID        `json:"asset_id"`
	Status        models.AssetStatus `json:"status"`
	Progress      int                `json:"progress"`
	StartedAt     *models.Time       `json:"started_at,omitempty"`
	CompletedAt   *models.Time       `json:"completed_at,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	OutputPath    string             `json:"output_path,omitempty"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	Attempts      int                `json:"attempts"`
}

// ProcessingService accepts processing jobs and reports on them.
type ProcessingService struct {
	assets  repository.AssetRepository
	backend *queue.Backend
	direct  Dispatcher
	credits *credits.Hook
	cfg     config.ProcessingConfig
	logger  *slog.Logger
}

// NewProcessingService creates a service that enqueues on backend and runs
// jobs through direct whenever the backend cannot take them.
func NewProcessingService(
	assets repository.AssetRepository,
	backend *queue.Backend,
	direct Dispatcher,
	cfg config.ProcessingConfig,
) *ProcessingService {
	return &ProcessingService{
		assets:  assets,
		backend: backend,
		direct:  direct,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *ProcessingService) WithLogger(logger *slog.Logger) *ProcessingService {
	s.logger = logger
	return s
}

// WithCredits debits uploads through hook.
func (s *ProcessingService) WithCredits(hook *credits.Hook) *ProcessingService {
	s.credits = hook
	return s
}

// Mode returns the execution mode chosen at startup.
func (s *ProcessingService) Mode() queue.Mode {
	return s.backend.Mode
}

// Enqueue validates the request, claims the asset by moving it to queued
// and hands the job to the durable queue, or to the direct dispatcher when
// there is none. The claim is conditional on the asset being idle, so of two
// concurrent requests only one is accepted. It returns without waiting for
// any processing.
func (s *ProcessingService) Enqueue(ctx context.Context, req EnqueueRequest) (*JobHandle, error) {
	if len(req.SourceFiles) == 0 {
		return nil, models.ErrNoSourceFiles
	}
	for _, f := range req.SourceFiles {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	asset, err := s.assets.Get(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	userID := req.UserID
	if userID == "" {
		userID = asset.UserID
	}

	logger := s.requestLogger(ctx)

	busy, err := s.isBusy(ctx, asset, logger)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, models.ErrAssetBusy
	}

	if limit := s.cfg.MaxActivePerUser; limit > 0 {
		active, err := s.assets.CountActiveJobsFor(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("counting active jobs: %w", err)
		}
		if active >= int64(limit) {
			return nil, models.ErrUserJobLimit
		}
	}

	job := models.NewProcessingJob(asset.ID, userID, req.SourceFiles, req.Preferences, s.priorityFor(req))
	if s.cfg.MaxAttempts > 0 {
		job.MaxAttempts = s.cfg.MaxAttempts
	}
	if s.cfg.BackoffBase > 0 {
		job.BackoffMs = s.cfg.BackoffBase.Milliseconds()
	}

	if err := progress.Claim(ctx, s.assets, asset.ID); err != nil {
		return nil, err
	}

	mode, err := s.submit(ctx, job, logger)
	if err != nil {
		if relErr := progress.Release(context.WithoutCancel(ctx), s.assets, asset); relErr != nil {
			observability.WithAsset(logger, asset.ID.String()).Error("failed to release asset after rejected job",
				slog.String("error", relErr.Error()))
		}
		return nil, err
	}

	observability.WithJob(logger, job.ID.String(), asset.ID.String()).Info("processing job accepted",
		slog.String("mode", string(mode)),
		slog.Int("files", len(job.SourceFiles)),
		slog.Int("priority", job.Priority),
		slog.Bool("reprocess", req.Reprocess))

	if s.credits != nil && !req.Reprocess {
		s.credits.DebitAsync(userID, asset.ID.String(), job.ID.String(), len(job.SourceFiles), req.Preferences.StoryEnabled)
	}

	return &JobHandle{JobID: job.ID, AssetID: asset.ID, Mode: mode}, nil
}

// requestLogger tags the service logger with the caller's request id, if any.
func (s *ProcessingService) requestLogger(ctx context.Context) *slog.Logger {
	if id := observability.RequestIDFromContext(ctx); id != "" {
		return observability.WithRequestID(s.logger, id)
	}
	return s.logger
}

func (s *ProcessingService) isBusy(ctx context.Context, asset *models.Asset, logger *slog.Logger) (bool, error) {
	if asset.Status.IsActive() {
		return true, nil
	}
	if s.backend.Durable() {
		active, err := s.backend.Queue.HasActiveJob(ctx, asset.ID)
		if err != nil {
			observability.WithAsset(logger, asset.ID.String()).Warn("queue lookup failed, relying on asset status",
				slog.String("error", err.Error()))
			return false, nil
		}
		if active {
			return true, nil
		}
	}
	return s.direct != nil && s.direct.IsActive(asset.ID), nil
}

// submit enqueues durably when possible. A queue that fails at runtime
// does not fail the request: the job runs in-process instead.
func (s *ProcessingService) submit(ctx context.Context, job *models.ProcessingJob, logger *slog.Logger) (queue.Mode, error) {
	if s.backend.Durable() {
		err := s.backend.Queue.Enqueue(ctx, job)
		if err == nil {
			return s.backend.Mode, nil
		}
		if errors.Is(err, queue.ErrAssetBusy) {
			return "", models.ErrAssetBusy
		}
		logger.Warn("durable enqueue failed, running job in-process",
			slog.String("job_id", job.ID.String()),
			slog.String("backend", string(s.backend.Mode)),
			slog.String("error", err.Error()))
	}

	if s.direct == nil {
		return "", fmt.Errorf("no dispatcher available for job %s", job.ID)
	}
	if err := s.direct.Dispatch(job); err != nil {
		if errors.Is(err, queue.ErrAssetBusy) {
			return "", models.ErrAssetBusy
		}
		return "", fmt.Errorf("dispatching job: %w", err)
	}
	return queue.ModeDirect, nil
}

func (s *ProcessingService) priorityFor(req EnqueueRequest) int {
	switch {
	case req.Priority != nil:
		return *req.Priority
	case req.Reprocess:
		return s.cfg.ReprocessPriority
	default:
		return s.cfg.DefaultPriority
	}
}

// GetQueueStats reports the durable queue's counts. In direct mode every
// count is zero and the annotation says why.
func (s *ProcessingService) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{Mode: s.backend.Mode, Annotation: s.backend.Annotation()}
	if !s.backend.Durable() {
		return stats, nil
	}
	counts, err := s.backend.Queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading queue stats: %w", err)
	}
	stats.QueueStats = counts
	return stats, nil
}

// GetProcessingStatus returns the asset's processing fields.
func (s *ProcessingService) GetProcessingStatus(ctx context.Context, assetID models.ULID) (*ProcessingStatus, error) {
	asset, err := s.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return &ProcessingStatus{
		AssetID:       asset.ID,
		Status:        asset.Status,
		Progress:      asset.Progress,
		StartedAt:     asset.StartedAt,
		CompletedAt:   asset.CompletedAt,
		ErrorMessage:  asset.ErrorMessage,
		OutputPath:    asset.OutputPath,
		ThumbnailPath: asset.ThumbnailPath,
		Attempts:      asset.ProcessingAttempts,
	}, nil
}
