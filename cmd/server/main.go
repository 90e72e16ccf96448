package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/study-ingestor/api/handlers"
	"github.com/feichai0017/study-ingestor/api/routes"
	"github.com/feichai0017/study-ingestor/config"
	"github.com/feichai0017/study-ingestor/internal/bootstrap"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
)

func main() {
	// init logger
	log, err := bootstrap.NewLogger("logs/app.log")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, log)
	if err != nil {
		log.Fatal("Failed to build ingestion pipeline", logger.Error(err))
	}
	defer app.Close()

	// background pipeline runs
	service, err := ingest.NewService(app.Pipeline, app.Tuning.WorkerPoolSize, log)
	if err != nil {
		log.Fatal("Failed to create ingestion service", logger.Error(err))
	}

	redisCfg := config.GetRedisConfig()
	taskQueue := queue.NewAsynqQueue(queue.QueueConfig{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		MaxRetries:    3,
	}, app.Redis)
	defer taskQueue.Close()

	// init handlers
	h := handlers.NewHandlers(service, app.Authorizer, app.Validator, app.Storage, taskQueue, log)
	serverCfg := config.GetServerConfig()
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, serverCfg.CORSOrigins, log)

	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", serverCfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	// runs detached from their requests keep writing until they finish
	if err := service.Close(30 * time.Second); err != nil {
		log.Error("Ingestion runs cancelled at shutdown", logger.Error(err))
	}
}
