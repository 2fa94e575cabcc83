package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/apisync/internal/api"
	"github.com/hyperengineering/apisync/internal/config"
	"github.com/hyperengineering/apisync/internal/snapshot"
	"github.com/hyperengineering/apisync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "apisync",
	Short: "apisync - bidirectional OData synchronization service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(mappingsCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(purgeCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	initLogger(cfg)
	slog.Info("configuration loaded")

	// 4. Wire the engine (store, mappings, client, workers)
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	slog.Info("engine initialized",
		"db", cfg.Database.Path,
		"mappings", len(eng.mappings.All()),
	)

	// 5. Snapshot uploader (Noop when S3 unconfigured)
	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		return err
	}

	// 6. Initialize HTTP router
	handler := api.NewHandler(eng.mappings, eng.push, eng.pull, eng.reconciler, eng.store, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Start background coordinators
	var wg sync.WaitGroup
	startWorker(ctx, &wg, worker.NewPushCoordinator(eng.push, time.Duration(cfg.Sync.PushInterval)).Run)
	startWorker(ctx, &wg, worker.NewPullCoordinator(eng.pull, time.Duration(cfg.Sync.PullInterval)).Run)
	startWorker(ctx, &wg, worker.NewReconcileCoordinator(eng.reconciler, eng.mappings, time.Duration(cfg.Sync.DeleteInterval), cfg.Sync.PurgeOrphans).Run)
	startWorker(ctx, &wg, worker.NewSnapshotCoordinator(eng.store, time.Duration(cfg.Snapshot.Interval), uploader).Run)

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error indicates an actual server failure
		// that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for coordinators to complete
	wg.Wait()

	// 11c. Close store
	if err := eng.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background coordinator goroutine that respects
// context cancellation. Coordinators are tracked via WaitGroup for
// graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
