// Command api runs the Upload Control Plane HTTP server.
package main

import (
	"context"
	"log"

	"github.com/goodclips/videoindex/internal/config"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/logging"
	"github.com/goodclips/videoindex/internal/queue"
	"github.com/goodclips/videoindex/internal/storage"
	"github.com/goodclips/videoindex/internal/ucp"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger := logging.New("ucp")
	defer zapLogger.Sync()

	db, err := database.NewConnection(cfg, logger.Warn)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.AutoMigrate(); err != nil {
		zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
	}
	zapLogger.Info("database connection established")

	store, err := storage.New(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
	})
	if err != nil {
		zapLogger.Fatal("failed to construct storage gateway", zap.Error(err))
	}
	if err := store.EnsureBuckets(context.Background()); err != nil {
		zapLogger.Warn("failed to ensure buckets at startup", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := queue.NewClient(redisOpt)
	defer jobClient.Close()

	statusCache, err := queue.NewStatusCache(queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		zapLogger.Fatal("failed to connect to status cache", zap.Error(err))
	}
	defer statusCache.Close()

	handlers := ucp.NewHandlers(db, store, jobClient, statusCache, zapLogger)
	router := ucp.Router(handlers, cfg.JWTIssuer, cfg.JWTAudience, cfg.CORSOrigins)

	zapLogger.Info("upload control plane starting", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		zapLogger.Fatal("server exited", zap.Error(err))
	}
}
