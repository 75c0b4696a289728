package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/credits"
	"github.com/jmylchreest/reelcast/internal/database"
	"github.com/jmylchreest/reelcast/internal/ffmpeg"
	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/pipeline"
	"github.com/jmylchreest/reelcast/internal/queue"
	"github.com/jmylchreest/reelcast/internal/repository"
	"github.com/jmylchreest/reelcast/internal/scheduler"
	"github.com/jmylchreest/reelcast/internal/service"
	"github.com/jmylchreest/reelcast/internal/startup"
	"github.com/jmylchreest/reelcast/internal/storage"
)

// app holds the wired components shared by serve and worker.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *database.DB
	assets  repository.AssetRepository
	jobs    repository.JobRepository
	backend *queue.Backend

	executor *scheduler.Executor
	direct   *scheduler.DirectDispatcher
	credits  *credits.Hook
	service  *service.ProcessingService
}

// newApp opens and migrates the database, resolves the queue backend once
// and builds the processing pipeline. base bounds in-process jobs.
func newApp(ctx, base context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		assets: repository.NewAssetRepository(db.DB),
		jobs:   repository.NewJobRepository(db.DB),
	}

	processor, err := a.buildProcessor(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a.backend = queue.Resolve(ctx, cfg.Queue, queue.Dependencies{
		Jobs:   a.jobs,
		DBPing: db.Ping,
	}, logger)

	a.executor = scheduler.NewExecutor(a.assets, processor).
		WithLogger(observability.WithComponent(logger, "executor")).
		WithHistory(a.jobs)

	a.direct = scheduler.NewDirectDispatcher(base, a.executor, cfg.Processing.JobTimeout).
		WithLogger(observability.WithComponent(logger, "direct"))

	a.credits, err = credits.NewHookFromConfig(base, cfg.Credits, observability.WithComponent(logger, "credits"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing credits: %w", err)
	}

	a.service = service.NewProcessingService(a.assets, a.backend, a.direct, cfg.Processing).
		WithLogger(observability.WithComponent(logger, "processing")).
		WithCredits(a.credits)

	return a, nil
}

func (a *app) buildProcessor(ctx context.Context) (*pipeline.Processor, error) {
	cfg := a.cfg
	bins, err := ffmpeg.FindBinaries(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	if err != nil {
		return nil, err
	}
	a.logger.Info("media engine found",
		slog.String("ffmpeg", bins.FFmpeg),
		slog.String("ffprobe", bins.FFprobe))

	ffLogger := observability.WithComponent(a.logger, "ffmpeg")
	prober := ffmpeg.NewProber(bins.FFprobe).
		WithTimeout(cfg.FFmpeg.ProbeTimeout).
		WithLogger(ffLogger)
	thumbnailer := ffmpeg.NewThumbnailer(bins.FFmpeg).
		WithTimeout(cfg.FFmpeg.ThumbnailTimeout).
		WithLogger(ffLogger)

	publisher, err := storage.NewPublisher(ctx, cfg.Storage, observability.WithComponent(a.logger, "storage"))
	if err != nil {
		return nil, fmt.Errorf("initializing publisher: %w", err)
	}

	pipeLogger := observability.WithComponent(a.logger, "pipeline")
	processor, err := pipeline.NewProcessor(pipeline.Dependencies{
		Merger:       pipeline.NewMerger(bins.FFmpeg, prober).WithLogLevel(cfg.FFmpeg.LogLevel).WithLogger(pipeLogger),
		Encoder:      pipeline.NewEncoder(bins.FFmpeg).WithLogLevel(cfg.FFmpeg.LogLevel).WithLogger(pipeLogger),
		Prober:       prober,
		Thumbnailer:  thumbnailer,
		Publisher:    publisher,
		WorkDir:      cfg.Storage.WorkPath(),
		ThumbnailDir: cfg.Storage.ThumbnailPath(),
		MusicDir:     cfg.Storage.MusicPath(),
		Logger:       pipeLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	return processor, nil
}

// runner returns a worker pool over the durable queue, or nil in direct mode.
func (a *app) runner() *scheduler.Runner {
	if !a.backend.Durable() {
		return nil
	}
	runnerCfg := scheduler.DefaultRunnerConfig()
	runnerCfg.WorkerCount = a.cfg.Processing.Workers
	runnerCfg.PollInterval = a.cfg.Processing.PollInterval
	runnerCfg.JobTimeout = a.cfg.Processing.JobTimeout
	return scheduler.NewRunner(a.backend.Queue, a.executor).
		WithLogger(observability.WithComponent(a.logger, "runner")).
		WithConfig(runnerCfg)
}

// maintenance returns the housekeeping loop. History lives in the database
// whatever the backend, so only stale recovery needs a durable queue.
func (a *app) maintenance() *scheduler.Maintenance {
	var q queue.JobQueue
	if a.backend.Durable() {
		q = a.backend.Queue
	}
	return scheduler.NewMaintenance(q, a.jobs, scheduler.MaintenanceConfig{
		Schedule:   a.cfg.Processing.CleanupSchedule,
		Retention:  a.cfg.Processing.HistoryRetention,
		StaleAfter: a.cfg.Processing.StaleThreshold,
	}).WithLogger(observability.WithComponent(a.logger, "maintenance"))
}

// hasActiveJob reports whether the durable queue holds a job for the asset.
// In direct mode nothing survives a restart.
func (a *app) hasActiveJob(ctx context.Context, assetID models.ULID) (bool, error) {
	if !a.backend.Durable() {
		return a.direct.IsActive(assetID), nil
	}
	return a.backend.Queue.HasActiveJob(ctx, assetID)
}

// recoverOrphans fails assets orphaned by a previous run and removes work
// directories nothing will resume from.
func (a *app) recoverOrphans(ctx context.Context) {
	logger := observability.WithComponent(a.logger, "startup")

	if n, err := startup.RecoverOrphanedAssets(ctx, logger, a.assets, a.hasActiveJob, a.cfg.Processing.StaleThreshold); err != nil {
		logger.Warn("failed to recover orphaned assets", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("recovered orphaned assets", slog.Int("recovered", n))
	}

	if n, err := startup.CleanupOrphanedWorkDirs(ctx, logger, a.cfg.Storage.WorkPath(), startup.DefaultCleanupAge, a.hasActiveJob); err != nil {
		logger.Warn("failed to clean work directories", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("cleaned orphaned work directories", slog.Int("removed", n))
	}
}

// drain waits for in-process jobs and pending debits to settle.
func (a *app) drain() {
	a.direct.Wait()
	a.credits.Wait()
}

// Close releases the queue backend and the database.
func (a *app) Close() {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	errs = append(errs, a.db.Close())
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing resources", slog.String("error", err.Error()))
	}
}
