// Package main is the entrypoint for the vdogen API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/api"
	"github.com/kiranshivaraju/vdogen/internal/api/handler"
	mw "github.com/kiranshivaraju/vdogen/internal/api/middleware"
	"github.com/kiranshivaraju/vdogen/internal/auth"
	"github.com/kiranshivaraju/vdogen/internal/blob"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/internal/manifest"
	"github.com/kiranshivaraju/vdogen/internal/pipeline"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/status"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// parseLogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// services bundles what the HTTP layer is built from.
type services struct {
	store   store.Store
	cache   cache.Cache
	jobs    queue.Producer
	blobs   blob.Store
	metrics *pipeline.Metrics
}

func newRouter(cfg *config.Config, svc services, logger *slog.Logger) http.Handler {
	submitter := pipeline.NewSubmitter(svc.store, svc.cache, svc.jobs, svc.metrics, cfg.Pipeline.StatusTTL, logger)
	resolver := status.NewResolver(svc.store, svc.cache, logger)
	manifests := manifest.NewService(svc.blobs)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AuthorizedParties)),
		RateLimit: mw.NewRateLimit(svc.cache, cfg.Auth.RateLimitRequests, cfg.Auth.RateLimitWindow),
		Logger:    logger,

		HealthHandler:   handler.NewHealthHandler(svc.store, svc.cache),
		GenerateHandler: handler.NewGenerateHandler(submitter),
		StatusHandler:   handler.NewStatusHandler(resolver),
		ManifestHandler: handler.NewManifestHandler(manifests),
	})
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireServer(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Object storage for playlists and signed URLs
	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	defer blobs.Close()
	slog.Info("blob store ready", "backend", cfg.Storage.Backend, "bucket", cfg.Storage.Bucket)

	// 6. Build router with dependencies
	generations := queue.NewRedisQueue(redisCache.Client(), pipeline.GenerationQueue, queue.RedisConfig{
		Lease:         cfg.Pipeline.QueueLease,
		MaxDeliveries: cfg.Pipeline.MaxDeliveries,
	})
	router := newRouter(cfg, services{
		store:   store.NewPostgresStore(pool),
		cache:   redisCache,
		jobs:    generations,
		blobs:   blobs,
		metrics: pipeline.NewMetrics(otel.GetMeterProvider()),
	}, logger)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
