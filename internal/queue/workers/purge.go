package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicebridge/internal/queue"
)

// Deleter removes a staged object. Deleting a missing object must succeed.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

type PurgeWorker struct {
	store Deleter
}

func NewPurgeWorker(store Deleter) *PurgeWorker {
	return &PurgeWorker{store: store}
}

func (w *PurgeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.StagingPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Key == "" {
		return fmt.Errorf("empty key: %w", asynq.SkipRetry)
	}

	if err := w.store.Delete(ctx, payload.Key); err != nil {
		return fmt.Errorf("delete staged object %s: %w", payload.Key, err)
	}

	slog.Info("purged staged audio", "key", payload.Key)
	return nil
}
