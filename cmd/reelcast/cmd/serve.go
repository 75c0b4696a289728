package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/reelcast/internal/http"
	"github.com/jmylchreest/reelcast/internal/http/handlers"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and workers",
	Long: `Start the reelcast HTTP API together with the worker pool and queue
maintenance.

The server provides:
- POST /api/v1/assets/{id}/process to queue an asset
- GET /api/v1/assets/{id}/status and /api/v1/queue/stats
- GET /health, /livez and /readyz
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

var serveNoWorkers bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Int("workers", 2, "Number of concurrent processing workers")
	serveCmd.Flags().String("queue", "database", "Queue backend (redis, database, none)")
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "Serve the API only; jobs are processed by separate worker processes")

	// Flags are bound when the command runs; serve and worker share keys.
	serveCmd.PreRun = func(cmd *cobra.Command, _ []string) {
		mustBindPFlag("server.host", cmd.Flags().Lookup("host"))
		mustBindPFlag("server.port", cmd.Flags().Lookup("port"))
		mustBindPFlag("processing.workers", cmd.Flags().Lookup("workers"))
		mustBindPFlag("queue.backend", cmd.Flags().Lookup("queue"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-process jobs and debits are cancelled by shutdown like everything
	// else; their settle writes are detached internally.
	a, err := newApp(ctx, ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.recoverOrphans(ctx)

	server := internalhttp.NewServer(cfg.Server, observability.WithComponent(logger, "http"), version.Version)
	handlers.NewHealthHandler(version.Version).
		WithDB(a.db).
		WithBackend(a.backend).
		Register(server.API())
	handlers.NewProcessingHandler(a.service).Register(server.API())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if runner := a.runner(); runner != nil && !serveNoWorkers {
		g.Go(func() error { return runner.Run(gctx) })
	}
	g.Go(func() error { return a.maintenance().Run(gctx) })

	logger.Info("reelcast started",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.String("queue_mode", string(a.backend.Mode)))

	err = g.Wait()
	stop()
	a.drain()
	logger.Info("reelcast stopped")
	return err
}
