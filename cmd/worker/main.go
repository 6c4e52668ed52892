package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/asmelnikov/docstream/internal/bootstrap"
	"github.com/asmelnikov/docstream/internal/config"
	"github.com/asmelnikov/docstream/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("docstream-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	pool, err := ants.NewPool(cfg.WorkerCount)
	if err != nil {
		log.Fatalf("worker pool error: %v", err)
	}
	defer pool.Release()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		report, err := app.Sweeper.Sweep(sweepCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweep failed", "error", err)
			return
		}
		app.Metrics.ObserveSweep(int64(report.Healed), int64(report.Reset), report.LocksReclaimed)
	}); err != nil {
		log.Fatalf("sweeper schedule error: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	runTimeout := time.Duration(cfg.RunTimeoutSeconds) * time.Second

	logger.Info("worker subscribed",
		"subject", cfg.NATSSubject,
		"queue_group", cfg.NATSQueueGroup,
		"workers", cfg.WorkerCount,
	)
	// Runs are scoped to the process context, not the per-message one: the
	// handler returns as soon as the run is queued on the pool.
	err = app.Queue.SubscribeDocuments(ctx, func(_ context.Context, documentID string) error {
		return pool.Submit(func() {
			runCtx, cancel := context.WithTimeout(ctx, runTimeout)
			defer cancel()

			app.Metrics.StartRun()
			started := time.Now()
			runErr := app.Pipeline.Run(runCtx, documentID)
			app.Metrics.FinishRun(time.Since(started), runErr)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("pipeline run failed", "document_id", documentID, "error", runErr)
			}
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
