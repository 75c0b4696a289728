package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/reelcast/internal/queue"
)

// HistoryPruner removes old history rows.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceConfig holds the queue housekeeping settings.
type MaintenanceConfig struct {
	// Schedule is a 5-field cron expression for history pruning.
	Schedule string
	// Retention is how long settled jobs and history are kept.
	Retention time.Duration
	// StaleAfter is how long a running job may hold its lock before it is
	// returned to the queue.
	StaleAfter time.Duration
	// StaleCheckInterval is how often stale locks are checked.
	StaleCheckInterval time.Duration
}

// Maintenance prunes settled jobs on a cron schedule and recovers jobs left
// running by a worker that died.
type Maintenance struct {
	queue   queue.JobQueue
	history HistoryPruner
	cfg     MaintenanceConfig
	logger  *slog.Logger
	parser  cron.Parser
}

// NewMaintenance creates the housekeeping loop. q may be nil when jobs run
// in-process, and history may be nil when it is kept elsewhere.
func NewMaintenance(q queue.JobQueue, history HistoryPruner, cfg MaintenanceConfig) *Maintenance {
	if cfg.StaleCheckInterval <= 0 {
		cfg.StaleCheckInterval = 5 * time.Minute
	}
	return &Maintenance{
		queue:   q,
		history: history,
		cfg:     cfg,
		logger:  slog.Default(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// WithLogger sets a custom logger.
func (m *Maintenance) WithLogger(logger *slog.Logger) *Maintenance {
	m.logger = logger
	return m
}

// Run recovers stale jobs once, then prunes on the cron schedule and checks
// for stale locks periodically until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	schedule, err := m.parser.Parse(m.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("parsing cleanup schedule %q: %w", m.cfg.Schedule, err)
	}

	c := cron.New(cron.WithParser(m.parser))
	c.Schedule(schedule, cron.FuncJob(func() { m.Prune(ctx) }))
	c.Start()
	defer func() { <-c.Stop().Done() }()

	m.logger.Info("queue maintenance started",
		slog.String("schedule", m.cfg.Schedule),
		slog.Duration("retention", m.cfg.Retention),
		slog.Time("next_prune", schedule.Next(time.Now())))

	m.RecoverStale(ctx)

	ticker := time.NewTicker(m.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RecoverStale(ctx)
		}
	}
}

// Prune deletes settled jobs and history older than the retention window.
func (m *Maintenance) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.Retention)

	if m.queue != nil {
		jobs, err := m.queue.PruneHistory(ctx, cutoff)
		if err != nil {
			m.logger.Error("failed to prune settled jobs", slog.String("error", err.Error()))
		} else if jobs > 0 {
			m.logger.Info("pruned settled jobs", slog.Int64("deleted", jobs))
		}
	}

	if m.history == nil {
		return
	}
	rows, err := m.history.PruneHistory(ctx, cutoff)
	if err != nil {
		m.logger.Error("failed to prune job history", slog.String("error", err.Error()))
	} else if rows > 0 {
		m.logger.Info("pruned job history", slog.Int64("deleted", rows))
	}
}

// RecoverStale returns jobs locked longer than StaleAfter to the queue.
func (m *Maintenance) RecoverStale(ctx context.Context) {
	if m.queue == nil || m.cfg.StaleAfter <= 0 {
		return
	}
	recovered, err := m.queue.RecoverStale(ctx, time.Now().Add(-m.cfg.StaleAfter))
	if err != nil {
		m.logger.Error("failed to recover stale jobs", slog.String("error", err.Error()))
		return
	}
	if recovered > 0 {
		m.logger.Warn("recovered stale jobs", slog.Int64("recovered", recovered))
	}
}
