// Command mis runs the Model Inference Service: the one component in this
// system allowed to carry ML model/runtime weight.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/goodclips/videoindex/internal/config"
	"github.com/goodclips/videoindex/internal/logging"
	"github.com/goodclips/videoindex/internal/mis"
	"github.com/goodclips/videoindex/internal/storage"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger := logging.New("mis")
	defer zapLogger.Sync()

	if cfg.OpenAIAPIKey == "" {
		zapLogger.Fatal("OPENAI_API_KEY must be set")
	}
	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)

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

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		zapLogger.Fatal("failed to create scratch dir", zap.Error(err))
	}

	transcriber := mis.NewWhisperTranscriber(openaiClient)
	textEmbedder := mis.NewOpenAITextEmbedder(openaiClient, openai.EmbeddingModel(cfg.OpenAIEmbeddingModel))
	visionEmbedder := mis.NewCaptionVisionEmbedder(openaiClient, cfg.OpenAIChatModel, textEmbedder)
	faceDetector := mis.NewVisionFaceDetector(openaiClient, cfg.OpenAIChatModel)

	// Fail fast if the text-embedding model is missing or unreachable: refuse
	// to serve rather than discover it on the first pipeline request. The
	// transcription and chat models are not probed at startup.
	verifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := textEmbedder.EmbedText(verifyCtx, []string{"startup check"}); err != nil {
		zapLogger.Fatal("embedding model unavailable at startup", zap.Error(err))
	}

	loadedModels := []string{
		string(openai.Whisper1),
		cfg.OpenAIEmbeddingModel,
		cfg.OpenAIChatModel,
	}

	server := mis.NewServer(transcriber, textEmbedder, visionEmbedder, faceDetector, store, cfg.ScratchDir, loadedModels, "cpu", cfg.MISConcurrency)
	router := server.Router()

	misPort := os.Getenv("MIS_PORT")
	if misPort == "" {
		misPort = "8090"
	}

	zapLogger.Info("model inference service starting", zap.String("port", misPort))
	if err := router.Run(":" + misPort); err != nil {
		zapLogger.Fatal("server exited", zap.Error(err))
	}
}
