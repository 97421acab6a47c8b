// Package queue binds the Indexing Pipeline's work distribution to
// hibiken/asynq, which gives at-least-once delivery, per-task timeouts, and
// bounded, backed-off retry natively. The StageStatus cache in queue.go
// rides the same Redis instance.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskIndexVideo is the single task type this repo enqueues: one task per
// video, carrying only the video_id. Every pipeline stage for that video
// runs inside the one task handler invocation — the queue dispatches per
// video, not per stage.
const TaskIndexVideo = "video:index"

// IndexVideoPayload is the asynq task payload.
type IndexVideoPayload struct {
	VideoID string `json:"video_id"`
}

// Client enqueues index-video tasks from the Upload Control Plane.
type Client struct {
	inner *asynq.Client
}

// NewClient constructs a Client bound to the given Redis connection options.
func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{inner: asynq.NewClient(redisOpt)}
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.inner.Close()
}

// EnqueueIndexVideo schedules the video for processing. Per-task timeout and
// retry policy are attached here rather than on the handler side, matching
// asynq's task-option convention: 10-minute timeout, 2 retries with backoff.
func (c *Client) EnqueueIndexVideo(ctx context.Context, videoID string) error {
	payload, err := json.Marshal(IndexVideoPayload{VideoID: videoID})
	if err != nil {
		return fmt.Errorf("queue: failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskIndexVideo, payload)
	_, err = c.inner.EnqueueContext(ctx, task,
		asynq.Timeout(10*time.Minute),
		asynq.MaxRetry(2),
		asynq.Queue("indexing"),
		// one active task per video: re-enqueuing a video already queued is a
		// no-op rather than a duplicate run, since TaskID is deterministic.
		asynq.TaskID("index-"+videoID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("queue: failed to enqueue task: %w", err)
	}
	return nil
}

// NewServer constructs the asynq worker server used by cmd/worker, with
// concurrency bounding how many videos are indexed at once per process.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"indexing": 1,
		},
		RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
			return time.Duration(n+1) * 30 * time.Second
		},
	})
}
