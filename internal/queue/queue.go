package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StageStatus is a cheap, denormalized read model for one (video, stage)
// job's state and progress, kept in Redis and rewritten by the pipeline at
// each stage start and finish; the Upload Control Plane's get_status
// endpoint reads it before falling back to the stored row. The metadata store's Job
// rows (internal/database, internal/models) remain the durable source of
// truth; this cache only ever reflects them.
type StageStatus struct {
	VideoID   string    `json:"video_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
	ErrorText *string   `json:"error_text,omitempty"`
}

// StatusCache wraps a Redis client for StageStatus reads/writes.
type StatusCache struct {
	client *redis.Client
}

// Config holds the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewStatusCache creates a StatusCache, verifying connectivity eagerly so a
// misconfigured Redis address fails at startup rather than mid-pipeline.
func NewStatusCache(cfg Config) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("queue: failed to connect to redis: %w", err)
	}

	return &StatusCache{client: client}, nil
}

func cacheKey(videoID, stage string) string {
	return fmt.Sprintf("status:%s:%s", videoID, stage)
}

// Set records the latest known state for one (video, stage) pair, with a
// generous TTL so abandoned entries from deleted videos age out on their
// own rather than requiring an explicit cleanup job.
func (s *StatusCache) Set(ctx context.Context, st StageStatus) error {
	st.UpdatedAt = st.UpdatedAt.UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal status: %w", err)
	}
	return s.client.Set(ctx, cacheKey(st.VideoID, st.Stage), data, 7*24*time.Hour).Err()
}

// Get returns the cached status for (videoID, stage), or nil if absent —
// callers fall back to a Postgres read on a cache miss.
func (s *StatusCache) Get(ctx context.Context, videoID, stage string) (*StageStatus, error) {
	data, err := s.client.Get(ctx, cacheKey(videoID, stage)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: failed to get status: %w", err)
	}

	var st StageStatus
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("queue: failed to unmarshal status: %w", err)
	}
	return &st, nil
}

// Close releases the underlying Redis connection.
func (s *StatusCache) Close() error {
	return s.client.Close()
}
