package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicebridge/internal/queue"
)

func TestRegistry_RoutesByType(t *testing.T) {
	r := queue.NewRegistry()

	var got []string
	r.Register(queue.TypeStagingPurge, asynq.HandlerFunc(func(_ context.Context, t *asynq.Task) error {
		got = append(got, string(t.Payload()))
		return nil
	}))
	boom := errors.New("boom")
	r.Register("other", asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	if err := r.Mux().ProcessTask(context.Background(), asynq.NewTask(queue.TypeStagingPurge, []byte(`{"key":"a.wav"}`))); err != nil {
		t.Fatalf("ProcessTask error: %v", err)
	}
	if len(got) != 1 || got[0] != `{"key":"a.wav"}` {
		t.Errorf("payloads: got %v", got)
	}

	if err := r.Mux().ProcessTask(context.Background(), asynq.NewTask("other", nil)); !errors.Is(err, boom) {
		t.Errorf("error: got %v, want boom", err)
	}

	types := r.Types()
	if len(types) != 2 || types[0] != queue.TypeStagingPurge || types[1] != "other" {
		t.Errorf("Types: got %v", types)
	}
}
