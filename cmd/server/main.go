package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"image-annotation-service/internal/annotation"
	"image-annotation-service/internal/config"
	"image-annotation-service/internal/db"
	"image-annotation-service/internal/element"
	"image-annotation-service/internal/events"
	"image-annotation-service/internal/image"
	"image-annotation-service/internal/logger"
	"image-annotation-service/internal/metrics"
	"image-annotation-service/internal/sync"
	"image-annotation-service/internal/worker"
	"image-annotation-service/redis"
)

func main() {
	// Load configuration
	config.LoadConfig()

	logger.InitGlobalLogger(logger.Config{
		Level:  config.AppConfig.LogLevel,
		Pretty: config.AppConfig.Environment == "development",
	})
	log := logger.GetGlobalLogger()

	// Connect to database
	if err := db.ConnectDb(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.CloseDb()

	// Migrate database schema
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database schema")
	}
	log.Info().Msg("Database schema migrated")

	// Initialize Redis cache
	cache := redis.NewCache(config.AppConfig.RedisAddress)
	defer cache.Close()

	// Worker pool and event bus for async notifications
	pool := worker.NewWorkerPool(config.AppConfig.WorkerPoolSize)
	bus := events.NewBus(pool)

	m := metrics.Default()

	// Initialize repositories
	itemRepo := image.NewRepository(db.AppDb)
	annRepo := annotation.NewRepository(db.AppDb)
	elementStore := element.NewStore(db.AppDb, cache, m)
	sequence := element.NewSequence(db.AppDb)

	// Initialize service
	validator := annotation.NewValidator(m)
	service := annotation.NewService(
		annRepo,
		elementStore,
		sequence,
		itemRepo,
		bus,
		validator,
		m,
		config.AppConfig.AnnotationHistory,
	)

	// Push save notifications to the configured webhook
	if config.AppConfig.WebhookAddress != "" {
		notifier := sync.NewNotifier(config.AppConfig.WebhookAddress)
		bus.Bind(events.AnnotationSaveHistory, func(ctx context.Context, name string, info events.Info) {
			id, _ := info["id"].(string)
			version, _ := info["version"].(int64)
			if err := notifier.NotifySaved(ctx, id, version); err != nil {
				log.Warn().Err(err).Str("id", id).Msg("Webhook save notification failed")
			}
		})
		bus.Bind(events.AnnotationRemoveAfter, func(ctx context.Context, name string, info events.Info) {
			id, _ := info["id"].(string)
			if err := notifier.NotifyRemoved(ctx, id); err != nil {
				log.Warn().Err(err).Str("id", id).Msg("Webhook remove notification failed")
			}
		})
	}

	// Annotations follow their image item's lifecycle
	bus.Bind(events.ItemRemove, func(ctx context.Context, name string, info events.Info) {
		itemID, _ := info["itemId"].(string)
		if itemID == "" {
			return
		}
		if err := service.RemoveItemAnnotations(ctx, itemID); err != nil {
			log.Error().Err(err).Str("itemId", itemID).Msg("Failed to remove item annotations")
		}
	})
	bus.Bind(events.ItemCopy, func(ctx context.Context, name string, info events.Info) {
		srcID, _ := info["sourceItemId"].(string)
		dest, _ := info["destination"].(*image.Item)
		if srcID == "" || dest == nil {
			return
		}
		if err := service.CopyItemAnnotations(ctx, srcID, dest); err != nil {
			log.Error().Err(err).Str("itemId", srcID).Msg("Failed to copy item annotations")
		}
	})

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    ":9090",
		Handler: mux,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Metrics server failed")
		}
	}()

	log.Info().Bool("history", config.AppConfig.AnnotationHistory).Msg("Annotation store ready")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown error")
	}

	pool.Shutdown()
	log.Info().Msg("Shutdown complete")
}
