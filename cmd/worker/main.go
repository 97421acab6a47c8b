// Command worker runs the Indexing Pipeline's asynq task processor.
package main

import (
	"context"
	"log"
	"os"

	"github.com/goodclips/videoindex/internal/config"
	"github.com/goodclips/videoindex/internal/database"
	"github.com/goodclips/videoindex/internal/ffmpeg"
	"github.com/goodclips/videoindex/internal/logging"
	"github.com/goodclips/videoindex/internal/misclient"
	"github.com/goodclips/videoindex/internal/pipeline"
	"github.com/goodclips/videoindex/internal/queue"
	"github.com/goodclips/videoindex/internal/scenedetect"
	"github.com/goodclips/videoindex/internal/storage"

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

	zapLogger := logging.New("worker")
	defer zapLogger.Sync()

	db, err := database.NewConnection(cfg, logger.Warn)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

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

	statusCache, err := queue.NewStatusCache(queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		zapLogger.Fatal("failed to connect to status cache", zap.Error(err))
	}
	defer statusCache.Close()

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		zapLogger.Fatal("failed to create scratch dir", zap.Error(err))
	}

	ffmpegClient := ffmpeg.NewClient()
	if err := ffmpegClient.CheckFFmpeg(context.Background()); err != nil {
		zapLogger.Fatal("ffmpeg/ffprobe not available", zap.Error(err))
	}
	detector := scenedetect.NewDetector(ffmpegClient)

	// The request-rate ceiling mirrors MIS's configured concurrency so the
	// worker pool backs off before MIS starts refusing.
	misClient := misclient.New(cfg.MISBaseURL, float64(cfg.MISConcurrency), cfg.MISConcurrency*2, cfg.MISTimeout)

	runner := pipeline.NewRunner(db, store, statusCache, ffmpegClient, detector, misClient, zapLogger, cfg.ScratchDir)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	server := queue.NewServer(redisOpt, cfg.PipelineConcurrency)

	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskIndexVideo, runner.Handler())

	zapLogger.Info("indexing worker starting", zap.Int("concurrency", cfg.PipelineConcurrency))
	if err := server.Run(mux); err != nil {
		zapLogger.Fatal("worker exited", zap.Error(err))
	}
}
