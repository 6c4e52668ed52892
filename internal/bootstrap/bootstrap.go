package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asmelnikov/docstream/internal/config"
	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/core/ports"
	"github.com/asmelnikov/docstream/internal/core/usecase"
	"github.com/asmelnikov/docstream/internal/infrastructure/delivery"
	"github.com/asmelnikov/docstream/internal/infrastructure/extractor/local"
	"github.com/asmelnikov/docstream/internal/infrastructure/extractor/tika"
	"github.com/asmelnikov/docstream/internal/infrastructure/fetch/httpfetch"
	"github.com/asmelnikov/docstream/internal/infrastructure/kv/redis"
	"github.com/asmelnikov/docstream/internal/infrastructure/queue/nats"
	"github.com/asmelnikov/docstream/internal/infrastructure/ratelimit"
	"github.com/asmelnikov/docstream/internal/infrastructure/repository/postgres"
	"github.com/asmelnikov/docstream/internal/infrastructure/resilience"
	"github.com/asmelnikov/docstream/internal/infrastructure/searchindex/meili"
	"github.com/asmelnikov/docstream/internal/infrastructure/staging"
	"github.com/asmelnikov/docstream/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.PipelineMetrics

	Queue      ports.MessageQueue
	Repo       ports.DocumentRepository
	Contents   ports.ContentRepository
	Pipeline   ports.PipelineRunner
	Sweeper    ports.Reconciler
	Moderation ports.Moderator

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	contents := postgres.NewContentRepository(db)
	errLog := postgres.NewErrorLog(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, cfg.NATSQueueGroup, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	kv := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := kv.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup, rate limiter will degrade to local mode", "error", err)
	}
	limiter := ratelimit.New(kv, logger, ratelimit.Config{
		MinInterval: time.Duration(cfg.DeliverIntervalSeconds) * time.Second,
	})

	staged, err := staging.New(cfg.StagingPath)
	if err != nil {
		return nil, fmt.Errorf("init staging store: %w", err)
	}

	fetcher := httpfetch.New(httpfetch.Config{})
	remote := tika.New(cfg.TikaURL, time.Duration(cfg.TikaTimeoutSeconds)*time.Second, executor)
	extractor := local.New(remote, logger)
	index := meili.New(cfg.MeiliURL, cfg.MeiliIndex, cfg.MeiliAPIKey, executor)

	deliverer, err := delivery.New(ctx, delivery.Config{
		Backend: delivery.Backend(cfg.DeliveryBackend),
		Telegram: delivery.TelegramConfig{
			BaseURL:  cfg.TelegramBaseURL,
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		},
		S3: delivery.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init delivery backend: %w", err)
	}

	pm := metrics.NewPipelineMetrics("docstream-worker")
	limiter.SetWaitObserver(pm.ObserveDeliverWait)

	pipeline := usecase.NewPipeline(
		repo, contents, errLog,
		fetcher, extractor, index, deliverer, limiter, staged,
		logger,
		usecase.PipelineConfig{
			MaxAttempts:         cfg.MaxAttempts,
			InitialBackoff:      time.Duration(cfg.InitialBackoffSeconds) * time.Second,
			MaxBackoff:          time.Duration(cfg.MaxBackoffSeconds) * time.Second,
			LockStaleness:       time.Duration(cfg.LockStalenessMinutes) * time.Minute,
			DeliverySizeCeiling: int64(cfg.DeliverySizeCeilingMB) * 1024 * 1024,
		},
	)
	pipeline.SetStageObserver(func(stage domain.Stage, status domain.StageStatus, elapsed time.Duration) {
		pm.ObserveStage(string(stage), string(status), elapsed)
	})

	sweeper := usecase.NewSweeper(repo, contents, queue, logger, usecase.SweeperConfig{
		BatchSize:     cfg.SweepBatchSize,
		LockStaleness: time.Duration(cfg.LockStalenessMinutes) * time.Minute,
	})

	moderation := usecase.NewModeration(repo, contents, errLog, queue, logger)

	return &App{
		Config:     cfg,
		Metrics:    pm,
		Queue:      queue,
		Repo:       repo,
		Contents:   contents,
		Pipeline:   pipeline,
		Sweeper:    sweeper,
		Moderation: moderation,

		closeFn: func() {
			queue.Close()
			_ = kv.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
