package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/reelcast/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run processing workers without the API",
	Long: `Run a worker pool that takes jobs from the durable queue.

Workers need a reachable Redis or database queue; in-process execution only
makes sense alongside the API server.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("workers", 2, "Number of concurrent processing workers")
	workerCmd.Flags().String("queue", "database", "Queue backend (redis, database)")

	// Flags are bound when the command runs; serve and worker share keys.
	workerCmd.PreRun = func(cmd *cobra.Command, _ []string) {
		mustBindPFlag("processing.workers", cmd.Flags().Lookup("workers"))
		mustBindPFlag("queue.backend", cmd.Flags().Lookup("queue"))
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := a.runner()
	if runner == nil {
		if a.backend.ProbeErr != nil {
			return errors.Join(errNoDurableQueue, a.backend.ProbeErr)
		}
		return errNoDurableQueue
	}
	a.recoverOrphans(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return a.maintenance().Run(gctx) })

	logger.Info("worker started",
		slog.String("queue_mode", string(a.backend.Mode)),
		slog.Int("workers", cfg.Processing.Workers))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("worker stopped")
	return err
}

var errNoDurableQueue = errors.New("worker requires a durable queue (" +
	string(queue.ModeRedis) + " or " + string(queue.ModeDatabase) + ")")
