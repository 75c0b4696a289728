package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/repository"
)

// Mode is how accepted jobs are executed.
type Mode string

const (
	// ModeRedis queues jobs in Redis.
	ModeRedis Mode = "redis"
	// ModeDatabase queues jobs in the processing_jobs table.
	ModeDatabase Mode = "database"
	// ModeDirect runs each job in-process for a single attempt.
	ModeDirect Mode = "direct"
)

// Backend is the queue decision made once at startup. Queue is nil in
// ModeDirect.
type Backend struct {
	Mode  Mode
	Queue JobQueue
	// ProbeErr is the reason a configured durable backend was not used.
	ProbeErr error
	closer   func() error
}

// Durable reports whether jobs survive a restart and can be retried.
func (b *Backend) Durable() bool {
	return b.Mode != ModeDirect && b.Queue != nil
}

// Annotation explains a degraded mode for operators. Empty when durable.
func (b *Backend) Annotation() string {
	if b.Durable() {
		return ""
	}
	if b.ProbeErr != nil {
		return fmt.Sprintf("durable queue unavailable (%v); jobs run in-process without retries", b.ProbeErr)
	}
	return "durable queue disabled; jobs run in-process without retries"
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// DirectBackend returns a backend that runs every job in-process.
func DirectBackend(reason error) *Backend {
	return &Backend{Mode: ModeDirect, ProbeErr: reason}
}

// Dependencies are the collaborators a backend may be built from.
type Dependencies struct {
	Jobs   repository.JobRepository
	DBPing func(ctx context.Context) error
}

// Resolve builds the configured backend and probes it once within
// cfg.ProbeTimeout. An unreachable backend yields ModeDirect; that is logged
// and is not an error. The decision is never revisited.
func Resolve(ctx context.Context, cfg config.QueueConfig, deps Dependencies, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "queue")

	var (
		q      JobQueue
		mode   Mode
		closer func() error
	)
	switch cfg.Backend {
	case config.QueueBackendRedis:
		rq := NewRedisQueue(cfg.Redis)
		q, mode, closer = rq, ModeRedis, rq.Close
	case config.QueueBackendDatabase:
		if deps.Jobs == nil {
			return degrade(logger, cfg.Backend, fmt.Errorf("no job repository configured"))
		}
		q, mode = NewDatabaseQueue(deps.Jobs, deps.DBPing), ModeDatabase
	default:
		logger.Info("durable queue disabled, running jobs in-process",
			slog.String("mode", string(ModeDirect)),
		)
		return DirectBackend(nil)
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	if err := q.Ping(probeCtx); err != nil {
		if closer != nil {
			_ = closer()
		}
		return degrade(logger, cfg.Backend, err)
	}

	logger.Info("durable queue ready", slog.String("mode", string(mode)))
	return &Backend{Mode: mode, Queue: q, closer: closer}
}

func degrade(logger *slog.Logger, backend string, err error) *Backend {
	logger.Warn("durable queue unreachable, falling back to in-process execution",
		slog.String("backend", backend),
		slog.String("mode", string(ModeDirect)),
		slog.String("error", err.Error()),
	)
	return DirectBackend(err)
}
