package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomnom/receiver/internal/cache"
	"github.com/nomnom/receiver/internal/clients"
	"github.com/nomnom/receiver/internal/config"
	"github.com/nomnom/receiver/internal/enrich"
	"github.com/nomnom/receiver/internal/events"
	"github.com/nomnom/receiver/internal/handlers"
	"github.com/nomnom/receiver/internal/ingest"
	"github.com/nomnom/receiver/internal/logging"
	"github.com/nomnom/receiver/internal/metrics"
	"github.com/nomnom/receiver/internal/queue"
	"github.com/nomnom/receiver/internal/storage"
	"github.com/nomnom/receiver/internal/tracing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP receiver and enrichment workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(signalCtx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	metrics.MustRegister()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	var enrichCache enrich.Cache
	var redisCache *cache.Cache
	if cfg.RedisAddr != "" {
		redisCache = cache.New(cfg.RedisAddr, cfg.CacheTTL)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("enrichment cache unreachable, continuing", "addr", cfg.RedisAddr, "error", err)
		}
		enrichCache = redisCache
	}

	// Initialize clients
	youtubeClient := clients.NewYouTubeClient(cfg.YouTubeBaseURL, cfg.HTTPTimeout)
	githubClient := clients.NewGitHubClient(cfg.GitHubRawBaseURL, cfg.HTTPTimeout)

	dispatcher := queue.NewDispatcher(queue.Config{
		Concurrency:     cfg.WorkerConcurrency,
		QueueSize:       cfg.QueueSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	broadcaster := events.NewBroadcaster()
	worker := queue.NewWorker(dispatcher, store, enrich.NewYouTube(youtubeClient, youtubeClient, enrichCache))
	worker.SetEvents(broadcaster)
	dispatcher.Start()

	handler := handlers.New(
		ingest.NewService(store, githubClient),
		queue.NewClient(dispatcher, store),
		store,
	)
	handler.SetEvents(broadcaster)
	handler.SetQueue(dispatcher)
	handler.AddReadinessCheck("storage", store, true)
	if redisCache != nil {
		handler.AddReadinessCheck("cache", redisCache, false)
	}
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("nomnom receiver starting",
			"addr", server.Addr,
			"database", cfg.DatabasePath,
			"workers", cfg.WorkerConcurrency,
			"cache", cfg.RedisAddr != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down nomnom receiver")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
		// Undrained tasks keep their jobs pending
		if err := dispatcher.Shutdown(); err != nil {
			logger.Warn("dispatcher shutdown incomplete", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("nomnom receiver stopped")
	return nil
}
