package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certamo/internal/api"
	"github.com/certamo/internal/api/handlers"
	"github.com/certamo/internal/api/middleware"
	"github.com/certamo/internal/config"
	"github.com/certamo/internal/db"
	"github.com/certamo/internal/fetcher"
	"github.com/certamo/internal/policy"
	"github.com/certamo/internal/render"
	"github.com/certamo/internal/services"
	"github.com/certamo/internal/store"
	"github.com/certamo/pkg/cloudinary"
	"github.com/certamo/pkg/email"
	"github.com/certamo/pkg/logger"
	"github.com/certamo/pkg/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(cfg, zapLogger)
	for _, warning := range cfg.Validate() {
		zapLogger.Warn("Configuration warning", zap.String("warning", warning))
	}

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()
	records := store.NewCertificateStore(database, zapLogger)
	checker := policy.NewChecker(cfg.Delivery.AllowedAssetHosts)

	// rate-limit counters live in redis when configured so every worker
	// process sees the same budgets; otherwise fall back in-process
	var counterStore middleware.CounterStore
	if cfg.RateLimit.RedisURI != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisURI,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		counterStore = middleware.NewRedisCounterStore(rdb)
		zapLogger.Info("Rate limiting backed by redis", zap.String("addr", cfg.RateLimit.RedisURI))
	} else {
		counterStore = middleware.NewMemoryCounterStore()
		zapLogger.Info("Rate limiting backed by in-process counters")
	}
	limiter := middleware.NewRateLimiter(counterStore, cfg.RateLimit.Window, cfg.RateLimit.Enabled, zapLogger)

	var storage *cloudinary.Storage
	if cfg.Cloudinary.CloudName != "" && cfg.Cloudinary.APIKey != "" {
		storage, err = cloudinary.NewStorage(
			cfg.Cloudinary.CloudName,
			cfg.Cloudinary.APIKey,
			cfg.Cloudinary.APISecret,
			cfg.Cloudinary.Folder,
			zapLogger,
		)
		if err != nil {
			zapLogger.Fatal("Failed to initialize cloudinary", zap.Error(err))
		}
	} else {
		zapLogger.Warn("Cloudinary not configured, generation and previews disabled")
	}

	assetFetcher := fetcher.NewFetcher(
		checker,
		cfg.Delivery.FetchTimeout,
		cfg.Delivery.FetchMaxBytes,
		zapLogger,
		metricsCollector,
	)

	renderer := render.NewRenderer(
		cfg.Delivery.RenderPoolSize,
		cfg.Delivery.RenderTimeout,
		cfg.Delivery.Landscape,
		zapLogger,
		metricsCollector,
	)

	var previews services.PreviewURLBuilder
	var uploader services.AssetUploader
	if storage != nil {
		previews = storage
		uploader = storage
	}

	delivery := services.NewDeliveryService(
		records, assetFetcher, renderer, previews, checker, zapLogger, metricsCollector,
	)

	var notifier services.Notifier
	if cfg.Email.Enabled {
		notifier = email.NewClient(
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.Sender,
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
		)
	}

	generator, err := services.NewGeneratorService(
		records, uploader, notifier,
		cfg.Delivery.TemplatePath,
		cfg.Server.BaseURL,
		zapLogger,
		metricsCollector,
	)
	if err != nil {
		zapLogger.Fatal("Failed to initialize generator", zap.Error(err))
	}

	sessions := services.NewSessionService(
		cfg.Admin.PasswordHash,
		cfg.Admin.Password,
		cfg.Admin.SessionTimeout,
		zapLogger,
	)
	adminMw := middleware.NewAdminMiddleware(sessions, cfg.Admin.AllowedIPs, zapLogger)

	certHandler := handlers.NewCertificateHandler(delivery, records, cfg.Server.BaseURL, zapLogger)
	adminHandler := handlers.NewAdminHandler(
		sessions, generator, records, cfg.Server.BaseURL, cfg.Delivery.MaxBatchSize, zapLogger,
	)
	healthHandler := handlers.NewHealthHandler(records, storage != nil, zapLogger)

	router := api.NewRouter(
		cfg, zapLogger, metricsCollector, limiter, adminMw,
		certHandler, adminHandler, healthHandler,
	)
	router.SetupRoutes()

	// liveness/readiness on a side port for the orchestrator
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(200))
	health.AddReadinessCheck("database", func() error {
		sqlDB, err := database.DB()
		if err != nil {
			return err
		}
		return sqlDB.Ping()
	})
	go func() {
		if err := http.ListenAndServe(":"+cfg.Server.HealthPort, health); err != nil {
			zapLogger.Warn("Healthcheck listener stopped", zap.Error(err))
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}

	if sqlDB, err := database.DB(); err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}
