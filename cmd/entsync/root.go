package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/entsync/internal/api"
	"github.com/hyperengineering/entsync/internal/config"
	"github.com/hyperengineering/entsync/internal/service"
	"github.com/hyperengineering/entsync/internal/validation"
	"github.com/hyperengineering/entsync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "entsync",
	Short:        "entsync - bulk entity sync service",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(entitiesCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("configuration loaded",
		"level", cfg.Log.Level,
		"dev_mode", cfg.DevMode,
		"webhooks", len(cfg.Webhooks),
	)

	initPlugins()

	db, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	slog.Info("store initialized",
		"path", cfg.Database.Path,
		"replica", cfg.Database.ReplicaPath,
	)

	dispatcher, registry := newDispatcher(db, cfg.Webhooks)
	slog.Info("dispatcher initialized", "listeners", dispatcher.Listeners(), "indexers", registry.Names())

	svc := service.NewSyncService(db, db, dispatcher)

	apiKey := cfg.Auth.APIKey
	if cfg.DevMode && apiKey == "" {
		slog.Warn("dev mode: API authentication disabled")
	}
	handler := api.NewHandler(db, svc, validation.Limits{
		MaxOperations: cfg.Sync.MaxOperations,
		MaxPayloads:   cfg.Sync.MaxPayloads,
	}, apiKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	coordinator := worker.NewIndexCoordinator(db, registry,
		time.Duration(cfg.Indexing.WorkerInterval),
		cfg.Indexing.BatchSize,
		cfg.Indexing.MaxAttempts,
	)
	startWorker(ctx, &wg, "index-coordinator", coordinator.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is expected after Shutdown; anything else triggers shutdown.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight requests, then wait for workers, then close the store.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
