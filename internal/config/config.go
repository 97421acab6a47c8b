// Package config loads service configuration from environment variables,
// following the env-with-fallback idiom the database package used to apply
// only to the Postgres DSN.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything a binary in this repo needs to start: database,
// queue, object store, and model-inference endpoints. All of it is passed in
// via environment; nothing is hard-coded.
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Job queue (Redis, consumed by asynq)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Object store (S3-compatible, consumed by minio-go)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string

	// Model Inference Service
	MISBaseURL     string
	MISConcurrency int
	MISTimeout     time.Duration

	// Auth
	JWTPublicKeyPath string
	JWTIssuer        string
	JWTAudience      string

	// Pipeline
	PipelineConcurrency int
	PipelineTaskTimeout time.Duration

	// HTTP
	Port        string
	CORSOrigins []string

	// OpenAI-backed model clients (consumed by internal/mis)
	OpenAIAPIKey         string
	OpenAIChatModel      string
	OpenAIEmbeddingModel string

	// Scratch space for downloaded media during pipeline/mis processing
	ScratchDir string
}

// Load builds a Config from the process environment, applying the same
// defaults-when-unset behavior across every field.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "videoindex"),
		DBPassword: getEnv("DB_PASSWORD", "videoindex_dev_password"),
		DBName:     getEnv("DB_NAME", "videoindex"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		S3Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),
		S3Region:    getEnv("S3_REGION", "us-east-1"),

		MISBaseURL:     getEnv("MIS_BASE_URL", "http://localhost:8090"),
		MISConcurrency: getEnvInt("MIS_CONCURRENCY", 8),
		MISTimeout:     getEnvDuration("MIS_TIMEOUT", 30*time.Second),

		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", ""),
		JWTAudience:      getEnv("JWT_AUDIENCE", ""),

		PipelineConcurrency: getEnvInt("PIPELINE_CONCURRENCY", 4),
		PipelineTaskTimeout: getEnvDuration("PIPELINE_TASK_TIMEOUT", 600*time.Second),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large"),

		ScratchDir: getEnv("SCRATCH_DIR", "/tmp/videoindex"),
	}

	if cfg.DBHost == "" {
		return nil, fmt.Errorf("config: DB_HOST must not be empty")
	}

	return cfg, nil
}

// PostgresDSN renders the gorm/pgx DSN for this config.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode, c.DBTimeZone)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
