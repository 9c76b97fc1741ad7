package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/catalogsync/internal/api"
	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/api/middleware"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/source/jsonl"
	"github.com/timmy/catalogsync/internal/source/postgres"
	"github.com/timmy/catalogsync/internal/source/sqldb"
	"github.com/timmy/catalogsync/internal/storage"
)

// vectorBackend is a vector store the server owns and must close.
type vectorBackend interface {
	service.VectorStore
	Close() error
}

func main() {
	// Initialize logger first so config errors are structured too
	appLogger := logger.New(logger.ConfigFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()

	// Metadata store
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	datasourceRepo := repository.NewDatasourceRepository(db)
	jobRepo := repository.NewSyncJobRepository(db)
	collectionRepo := repository.NewCollectionRepository(db)

	// Vector store
	var store vectorBackend
	switch cfg.VectorStore.Driver {
	case "local":
		if cfg.VectorStore.LocalPath == "" {
			store = repository.NewMemoryVectorRepository()
		} else {
			store, err = repository.OpenLocalVectorRepository(cfg.VectorStore.LocalPath)
		}
	default:
		store, err = repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
	}
	if err != nil {
		appLogger.WithError(err).WithField("driver", cfg.VectorStore.Driver).Fatal("Failed to initialize vector store")
	}
	defer store.Close()

	// Active-job slots: Redis when several instances share the metadata store
	var slots service.JobSlots = repository.NewJobSlotRepository(db)
	if cfg.Redis.Enabled {
		redisSlots, err := repository.NewRedisJobSlots(ctx, &repository.RedisSlotConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SlotTTL,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize redis job slots")
		}
		defer redisSlots.Close()
		slots = redisSlots
	}

	// Source readers
	pgPools := postgres.NewPoolManager()
	defer pgPools.Close()
	sqliteReader := sqldb.NewReader()
	defer sqliteReader.Close()
	reader := source.NewMux().
		Register(domain.SourceKindPostgres, postgres.NewReader(pgPools)).
		Register(domain.SourceKindSQLite, sqliteReader).
		Register(domain.SourceKindJSONL, jsonl.NewReader())

	if err := cfg.Embedding.RequireAPIKey(); err != nil {
		appLogger.WithError(err).Fatal("Embedding provider is not usable")
	}
	embeddingService := service.NewEmbeddingService(&cfg.Embedding)

	var classifier service.Classifier
	if cfg.Classifier.Enabled {
		classifier = service.NewLLMClassifier(&cfg.Classifier)
		appLogger.WithField("model", cfg.Classifier.Model).Info("AI classification enabled")
	}

	var exporter *service.ReportExporter
	if cfg.Storage.Enabled {
		objectStorage, err := storage.Open(ctx, &cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		exporter = service.NewReportExporter(objectStorage, cfg.Storage.ReportPrefix)
	}

	datasourceService := service.NewDatasourceService(datasourceRepo)
	if err := datasourceService.Seed(ctx, cfg.Datasources); err != nil {
		appLogger.WithError(err).Fatal("Failed to seed datasources")
	}

	registry := service.NewCollectionRegistry(collectionRepo, store)
	syncOpts := service.SyncOptionsFromConfig(&cfg.Sync)
	orchestrator := service.NewSyncOrchestrator(
		datasourceRepo,
		jobRepo,
		slots,
		reader,
		embeddingService,
		store,
		registry,
		appLogger,
		syncOpts,
	)

	if cfg.Sync.RecoverOnStart {
		if _, err := orchestrator.RecoverStale(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to recover stale sync jobs")
		}
	}

	detector := service.NewDuplicateDetector(store, classifier, exporter, service.DedupeOptionsFromConfig(&cfg.Dedupe))
	validator := service.NewExistenceValidator(embeddingService, store, service.ValidationOptionsFromConfig(&cfg.Validation))

	services := &api.Services{
		Sync:        orchestrator,
		Duplicates:  detector,
		Validator:   validator,
		Collections: registry,
		Datasources: datasourceService,
		Health: []handler.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "vector_store", Check: store.Ping},
		},
		DefaultDistance: syncOpts.Distance,
		DefaultHNSW:     syncOpts.HNSW,
	}
	if exporter != nil {
		services.Reports = exporter
	}

	router := api.SetupRouter(services, cfg.Server.Mode, middleware.CORSFromConfig(cfg.Server.CORS), appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":         cfg.Server.Port,
			"mode":         cfg.Server.Mode,
			"vector_store": cfg.VectorStore.Driver,
			"datasources":  len(cfg.Datasources),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Running jobs stop at their next batch boundary and record their outcome.
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Sync jobs did not stop in time")
	}

	appLogger.Info("Server exited")
}
