// Package bootstrap wires the pipeline from configuration. The API server
// and the queue worker share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/study-ingestor/config"
	"github.com/feichai0017/study-ingestor/internal/access"
	"github.com/feichai0017/study-ingestor/internal/agent/document/pdf"
	"github.com/feichai0017/study-ingestor/internal/repository"
	"github.com/feichai0017/study-ingestor/internal/repository/memory"
	sqlrepo "github.com/feichai0017/study-ingestor/internal/repository/sql"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/keypool"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/storage"
)

// App holds the wired components and the resources to release on exit.
type App struct {
	Logger     logger.Logger
	Redis      *redis.Client
	Tuning     *config.PipelineConfig
	Authorizer access.Authorizer
	Validator  *validator.DocumentValidator
	Storage    storage.Storage
	Pipeline   *ingest.Pipeline

	closers []func() error
}

// NewLogger builds the process logger from the server configuration.
// file is appended to the configured outputs when not empty.
func NewLogger(file string) (logger.Logger, error) {
	cfg := config.GetServerConfig()
	outputs := cfg.LogOutputs
	if file != "" {
		outputs = append(append([]string{}, outputs...), file)
	}
	return logger.NewLogger(
		logger.WithLevel(cfg.LogLevel),
		logger.WithEncoding(cfg.LogEncoding),
		logger.WithOutputPaths(outputs),
	)
}

func Build(ctx context.Context, log logger.Logger) (*App, error) {
	app := &App{Logger: log, Tuning: config.GetPipelineConfig()}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	log := a.Logger
	tuning := a.Tuning

	redisCfg := config.GetRedisConfig()
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	a.closers = append(a.closers, a.Redis.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		// pool state and quotas degrade without Redis
		log.Warn("Redis is not reachable", logger.String("addr", redisCfg.Addr), logger.Error(err))
	}

	llmCfg := config.GetLLMConfig()
	pool, err := keypool.New(
		keypool.NewCredentials(llmCfg.APIKeys),
		keypool.NewRedisStore(a.Redis, redisCfg.PoolStateKey),
		keypool.WithLogger(log.Named("keypool")),
	)
	if err != nil {
		return fmt.Errorf("failed to create credential pool: %w", err)
	}
	proxy := keypool.NewProxy(pool,
		keypool.OpenAIFactory(llmCfg.BaseURL, llmCfg.ChatModel, llmCfg.EmbeddingModel),
		keypool.ProxyConfig{
			ChatModel:      llmCfg.ChatModel,
			EmbeddingModel: llmCfg.EmbeddingModel,
			CallTimeout:    llmCfg.CallTimeout,
		},
	)
	log.Info("Credential pool ready", logger.Int("credentials", pool.Size()))

	repos, err := a.repositories(ctx)
	if err != nil {
		return err
	}

	authCfg := config.GetAuthConfig()
	authorizer, err := access.NewJWTAuthorizer(authCfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to create authorizer: %w", err)
	}
	a.Authorizer = authorizer

	a.Validator = validator.NewDocumentValidator(log, &validator.ValidatorConfig{MaxFileSize: tuning.MaxUploadBytes})

	a.Storage, err = storage.NewStorage(storage.StorageType(config.StorageType()), log)
	if err != nil {
		log.Warn("Upload archive disabled", logger.Error(err))
	}

	deps := ingest.Dependencies{
		Authorizer:  authorizer,
		Quota:       access.NewRedisQuota(a.Redis, authCfg.DailyIngestQuota, log),
		Permissions: access.NewCoursePermissions(repos.Courses),
		Validator:   a.Validator,
		Pages:       pdf.NewProcessor(log),
		LLM:         proxy,
		Embedder:    proxy,
		Repos:       repos,
		Logger:      log,
	}
	if a.Storage != nil {
		deps.Archive = a.Storage
	}

	a.Pipeline, err = ingest.NewPipeline(deps, ingest.Options{
		Model:             llmCfg.ChatModel,
		Temperature:       tuning.Temperature,
		EmbedConcurrency:  tuning.EmbedConcurrency,
		WriteBatchSize:    tuning.WriteBatchSize,
		QuestionPageBatch: tuning.QuestionPageBatch,
	})
	return err
}

func (a *App) repositories(ctx context.Context) (repository.Repositories, error) {
	dbCfg := config.GetDatabaseConfig()
	if dbCfg.Driver == "memory" {
		a.Logger.Warn("Using in-memory repositories, data is lost on exit")
		return memory.New(), nil
	}

	db, builder, err := sqlrepo.Open(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return repository.Repositories{}, err
	}
	a.closers = append(a.closers, db.Close)
	if err := sqlrepo.Migrate(ctx, db); err != nil {
		return repository.Repositories{}, err
	}
	return sqlrepo.New(db, builder), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Failed to release resource", logger.Error(err))
		}
	}
	a.closers = nil
}
