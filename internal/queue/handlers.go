package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Registry routes task types to handlers and logs every execution.
type Registry struct {
	mux   *asynq.ServeMux
	types []string
}

func NewRegistry() *Registry {
	r := &Registry{mux: asynq.NewServeMux()}
	r.mux.Use(logTask)
	return r
}

func (r *Registry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
	r.types = append(r.types, taskType)
}

// Types lists the registered task types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

func (r *Registry) Mux() *asynq.ServeMux {
	return r.mux
}

func logTask(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)

		err := next.ProcessTask(ctx, t)

		attrs := []any{"type", t.Type(), "task_id", id, "retry", retried, "duration", time.Since(start)}
		if err != nil {
			slog.Warn("task failed", append(attrs, "error", err)...)
			return err
		}
		slog.Debug("task done", attrs...)
		return nil
	})
}
