package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/study-ingestor/config"
	"github.com/feichai0017/study-ingestor/internal/bootstrap"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/worker"
)

func main() {
	log, err := bootstrap.NewLogger("logs/worker.log")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Build(ctx, log)
	if err != nil {
		log.Error("Failed to build ingestion pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer app.Close()

	if app.Storage == nil {
		log.Error("Queued ingestion needs object storage")
		os.Exit(1)
	}

	redisCfg := config.GetRedisConfig()
	workerCfg := &worker.Config{
		RedisAddr:       redisCfg.Addr,
		RedisPassword:   redisCfg.Password,
		RedisDB:         redisCfg.DB,
		Concurrency:     app.Tuning.QueueConcurrency,
		Queues:          queue.Queues,
		ShutdownTimeout: time.Minute,
	}

	documentWorker, err := worker.NewDocumentWorker(workerCfg, app.Pipeline, app.Storage, queue.NewStatusStore(app.Redis), log)
	if err != nil {
		log.Error("Failed to create document worker", logger.Error(err))
		os.Exit(1)
	}

	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	janitor := worker.NewJanitor(app.Storage, app.Tuning.ArchiveRetention, app.Tuning.CleanupInterval, log)
	go janitor.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	cancel()
	documentWorker.Stop()
	log.Info("Worker stopped")
}
