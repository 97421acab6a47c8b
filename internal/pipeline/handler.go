package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodclips/videoindex/internal/queue"

	"github.com/hibiken/asynq"
)

// Handler adapts Runner.Run to asynq's task-handler signature, registered
// against queue.TaskIndexVideo by cmd/worker.
func (r *Runner) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload queue.IndexVideoPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("pipeline: failed to unmarshal task payload: %w", err)
		}
		return r.Run(ctx, payload.VideoID)
	}
}
