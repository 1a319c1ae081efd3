// Package main is the entrypoint for the vdogen pipeline worker. It consumes the
// generation and render-status queues.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kiranshivaraju/vdogen/internal/blob"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/internal/oracle"
	"github.com/kiranshivaraju/vdogen/internal/pipeline"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/render"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// workerDeps are the connections both consumers share.
type workerDeps struct {
	store       store.Store
	cache       cache.Cache
	blobs       blob.Store
	oracle      models.Oracle
	runner      render.Runner
	generations queue.Queue
	polls       queue.Queue
	metrics     *pipeline.Metrics
}

// newConsumers wires the generator to the generation queue and the poller to the
// render-status queue.
func newConsumers(cfg *config.Config, deps workerDeps, logger *slog.Logger) []*queue.Consumer {
	generator := pipeline.NewGenerator(pipeline.GeneratorDeps{
		Store:   deps.store,
		Cache:   deps.cache,
		Blobs:   deps.blobs,
		Oracle:  deps.oracle,
		Runner:  deps.runner,
		Polls:   deps.polls,
		Metrics: deps.metrics,
		Logger:  logger,
	}, pipeline.GeneratorConfig{
		SystemPrompt:     cfg.AI.SystemPrompt,
		SeedPrompt:       cfg.AI.SeedPrompt,
		MaxTokens:        cfg.AI.MaxTokens,
		InferenceTimeout: cfg.AI.InferenceTimeout,
		StatusTTL:        cfg.Pipeline.StatusTTL,
		InitialPollDelay: cfg.Pipeline.InitialPollDelay,
		ActiveDeadline:   cfg.Render.ActiveDeadline,
		PollGrace:        cfg.Pipeline.PollGrace,
	})

	poller := pipeline.NewPoller(pipeline.PollerDeps{
		Store:       deps.store,
		Cache:       deps.cache,
		Runner:      deps.runner,
		Generations: deps.generations,
		Polls:       deps.polls,
		Metrics:     deps.metrics,
		Logger:      logger,
	}, pipeline.PollerConfig{
		StatusTTL:    cfg.Pipeline.StatusTTL,
		PollInterval: cfg.Pipeline.PollInterval,
	})

	consumerCfg := queue.ConsumerConfig{
		Concurrency:  cfg.Pipeline.Concurrency,
		PollInterval: cfg.Pipeline.QueuePoll,
	}
	return []*queue.Consumer{
		queue.NewConsumer(deps.generations, generator.Handle, consumerCfg, logger),
		queue.NewConsumer(deps.polls, poller.Handle, consumerCfg, logger),
	}
}

// runConsumers runs every consumer until ctx is cancelled or one of them fails.
func runConsumers(ctx context.Context, consumers []*queue.Consumer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireWorker(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	defer blobs.Close()

	provider, err := oracle.NewProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	clientset, err := render.NewClientset(cfg.Render.Kubeconfig)
	if err != nil {
		return fmt.Errorf("connect cluster: %w", err)
	}
	runner := render.NewK8sRunner(clientset, render.JobConfig{
		Namespace:        cfg.Render.Namespace,
		Image:            cfg.Render.Image,
		Bucket:           cfg.Storage.Bucket,
		KeySecret:        cfg.Render.KeySecret,
		TTLAfterFinished: cfg.Render.TTLAfterFinished,
		ActiveDeadline:   cfg.Render.ActiveDeadline,
		BackoffLimit:     cfg.Render.BackoffLimit,
	})
	slog.Info("render runner ready", "namespace", cfg.Render.Namespace, "image", cfg.Render.Image)

	queueCfg := queue.RedisConfig{
		Lease:         cfg.Pipeline.QueueLease,
		MaxDeliveries: cfg.Pipeline.MaxDeliveries,
	}
	generations := queue.NewRedisQueue(redisCache.Client(), pipeline.GenerationQueue, queueCfg)
	polls := queue.NewRedisQueue(redisCache.Client(), pipeline.StatusQueue, queueCfg)
	metrics := pipeline.NewMetrics(otel.GetMeterProvider())
	reg, err := metrics.ObserveQueues(generations, polls)
	if err != nil {
		return fmt.Errorf("register queue metrics: %w", err)
	}
	defer func() { _ = reg.Unregister() }()

	consumers := newConsumers(cfg, workerDeps{
		store:       store.NewPostgresStore(pool),
		cache:       redisCache,
		blobs:       blobs,
		oracle:      provider,
		runner:      runner,
		generations: generations,
		polls:       polls,
		metrics:     metrics,
	}, logger)

	if err := runConsumers(ctx, consumers); err != nil {
		return fmt.Errorf("consumers: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}
