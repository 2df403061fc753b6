package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicebridge/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SchedulePurge enqueues deletion of a staged object after the given delay.
// Scheduling the same key twice is a no-op.
func (c *Client) SchedulePurge(ctx context.Context, key string, after time.Duration) error {
	err := c.enqueue(ctx, TypeStagingPurge, StagingPurgePayload{Key: key},
		asynq.TaskID(purgeTaskID(key)),
		asynq.ProcessIn(after), asynq.Queue("low"), asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func purgeTaskID(key string) string {
	return TypeStagingPurge + ":" + key
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
