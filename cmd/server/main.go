// Package main is the entry point for the full oncorec REST service:
// postgres-backed patient registry and audit log, redis caches, external
// segmentation client, health checking.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/api"
	"github.com/oncorec-server/internal/caching"
	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/config"
	"github.com/oncorec-server/internal/database"
	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
	"github.com/oncorec-server/internal/health"
	"github.com/oncorec-server/internal/imaging"
	"github.com/oncorec-server/internal/repository"
	"github.com/oncorec-server/internal/service"
	"github.com/oncorec-server/pkg/external"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewEmbeddedMigrationRunner(database.URL(cfg.Database), logger)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	migrator.Close()

	var loader *catalog.Loader
	var snapshot *catalog.Snapshot
	if cfg.Catalog.Path != "" {
		loader = catalog.NewLoader(cfg.Catalog.Path, logger)
		snapshot, err = loader.Load()
	} else {
		snapshot, err = catalog.SeedSnapshot()
	}
	if err != nil {
		log.Fatalf("Failed to load drug catalog: %v", err)
	}
	store := catalog.NewStore(snapshot, logger)

	patients := repository.NewPatientRepository(db.Pool, logger)
	runs := repository.NewRecommendationRepository(db.Pool, logger)

	feedbackStore, err := feedback.NewPostgresStoreFromURL(database.URL(cfg.Database))
	if err != nil {
		log.Fatalf("Failed to create feedback store: %v", err)
	}
	defer feedbackStore.Close()

	recommender, err := service.NewRecommenderService(logger, store, cfg.Scoring,
		service.WithRunRepository(runs))
	if err != nil {
		log.Fatalf("Failed to create recommender: %v", err)
	}

	// Redis is optional: without it the service runs uncached.
	var redisClient *redis.Client
	var resultCache *caching.ResultCache
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		resultCache = caching.NewResultCache(caching.CacheConfig{
			RedisClient: redisClient,
			DefaultTTL:  cfg.Cache.DefaultTTL,
			Enabled:     true,
		})
	} else {
		logger.Warn("No redis URL configured, running without result caching")
	}

	healthChecker := health.NewHealthChecker(health.HealthConfig{}, db, redisClient, store, logger)

	// Segmentation is optional: without it morphology covariates are simply
	// absent and the adjuster degrades confidence.
	var analysis *imaging.AnalysisService
	if cfg.Segmentation.BaseURL != "" {
		analysis = buildAnalysisService(cfg, logger)
		healthChecker.RegisterSegmentationCheck("segmentation", cfg.Segmentation.BaseURL+"/health")
	} else {
		logger.Warn("No segmentation URL configured, image analysis endpoints disabled")
	}

	healthChecker.Start()
	defer healthChecker.Stop()

	server := api.NewServer(configManager, api.Dependencies{
		Recommender: recommender,
		Catalog:     store,
		Loader:      loader,
		Patients:    patients,
		Runs:        runs,
		Feedback:    feedbackStore,
		Analysis:    analysis,
		Health:      healthChecker,
		Cache:       resultCache,
	}, logger)

	logger.WithFields(logrus.Fields{
		"host":            cfg.Server.Host,
		"port":            cfg.Server.Port,
		"catalog_version": snapshot.Version(),
	}).Info("Starting oncorec server")

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("Server stopped")
}

// buildAnalysisService assembles the resilient segmentation stack: raw
// client, optional redis cache tier, circuit breaker, job tracking.
func buildAnalysisService(cfg *domain.Config, logger *logrus.Logger) *imaging.AnalysisService {
	client := external.NewSegmentationClient(cfg.Segmentation, logger)

	var cacheClient *external.CacheClient
	if cfg.Cache.RedisURL != "" {
		var err error
		cacheClient, err = external.NewCacheClient(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Analysis cache unavailable, segmentation runs uncached")
			cacheClient = nil
		}
	}

	resilient := external.NewResilientSegmentationClient(client, cacheClient, external.CircuitBreakerConfig{}, logger)
	return imaging.NewAnalysisService(resilient, imaging.AnalysisServiceConfig{}, logger)
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
