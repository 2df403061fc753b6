package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicebridge/internal/config"
	"github.com/nikhilbhutani/voicebridge/internal/queue"
	"github.com/nikhilbhutani/voicebridge/internal/queue/workers"
	"github.com/nikhilbhutani/voicebridge/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	store, err := storage.New(cfg.Storage)
	if err != nil {
		slog.Error("failed to open staging storage", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
			Logger: newAsynqLogger(logger),
		},
	)

	registry := queue.NewRegistry()

	purgeWorker := workers.NewPurgeWorker(store)
	registry.Register(queue.TypeStagingPurge, asynq.HandlerFunc(purgeWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", 4, "storage", cfg.Storage.Backend, "tasks", registry.Types())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
