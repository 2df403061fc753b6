package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/voicebridge/internal/api"
	"github.com/nikhilbhutani/voicebridge/internal/api/handlers"
	"github.com/nikhilbhutani/voicebridge/internal/audit"
	"github.com/nikhilbhutani/voicebridge/internal/cache"
	"github.com/nikhilbhutani/voicebridge/internal/config"
	"github.com/nikhilbhutani/voicebridge/internal/database"
	"github.com/nikhilbhutani/voicebridge/internal/llm"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/stt"
	"github.com/nikhilbhutani/voicebridge/internal/multimodal/tts"
	"github.com/nikhilbhutani/voicebridge/internal/pipeline"
	"github.com/nikhilbhutani/voicebridge/internal/queue"
	"github.com/nikhilbhutani/voicebridge/internal/session"
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

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := handlers.NewHealthHandler()
	var routerOpts []api.Option
	var recorder pipeline.RunRecorder

	// Database (optional, run audit only)
	var db *pgxpool.Pool
	if cfg.Database.URL != "" {
		db, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Warn("database unavailable, running without run audit", "error", err)
		} else {
			defer db.Close()
			if err := database.Migrate(ctx, db, os.DirFS(cfg.Database.MigrationsPath)); err != nil {
				slog.Warn("migrations failed", "error", err)
			}
			auditSvc := audit.NewService(db)
			recorder = auditSvc
			routerOpts = append(routerOpts, api.WithRunLister(auditSvc))
			health.AddCheck("database", db.Ping)
		}
	}

	// Redis (optional): deferred staging purge and the synthesis cache
	var purge storage.PurgeScheduler
	var synthCache cache.Store
	if cfg.Storage.Retention > 0 || cfg.Cache.SynthesisTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, purge and cache degraded", "error", err)
		}
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		if cfg.Storage.Retention > 0 {
			queueClient := queue.NewClient(cfg.Redis)
			defer queueClient.Close()
			purge = queueClient
		}
		if cfg.Cache.SynthesisTTL > 0 {
			synthCache = cache.NewRedisStore(rdb, "voicebridge:tts:")
		}
	}

	orchestrator, err := newOrchestrator(cfg, purge, synthCache, recorder)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(cfg.Session.IdleTTL)
	go sessions.Run(ctx)

	router := api.NewRouter(ctx, cfg, sessions, orchestrator, health, routerOpts...)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(),
			"stt", cfg.STT.Backend, "dialogue", cfg.Dialogue.Provider, "tts", cfg.TTS.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func newOrchestrator(cfg *config.Config, purge storage.PurgeScheduler, synthCache cache.Store, recorder pipeline.RunRecorder) (*pipeline.Orchestrator, error) {
	profile, err := config.LoadVoiceProfile(cfg.Voice.ProfilePath)
	if err != nil {
		return nil, err
	}
	chatVoice, err := tts.LoadVoice(profile.Chat, tts.DefaultChatParams())
	if err != nil {
		return nil, fmt.Errorf("chat voice: %w", err)
	}
	narrationVoice, err := tts.LoadVoice(profile.Narration, tts.DefaultNarrationParams())
	if err != nil {
		return nil, fmt.Errorf("narration voice: %w", err)
	}

	transcriber, err := newTranscriber(cfg, purge)
	if err != nil {
		return nil, err
	}
	responder, err := newResponder(cfg.Dialogue)
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(cfg.TTS)
	if err != nil {
		return nil, err
	}

	var synthesizer pipeline.Synthesizer = tts.NewClient(engine)
	if synthCache != nil {
		synthesizer = cache.NewSynthesisCache(synthesizer, synthCache, cfg.Cache.SynthesisTTL)
	}

	return pipeline.New(transcriber, responder, synthesizer,
		pipeline.WithChatVoice(chatVoice),
		pipeline.WithNarrationVoice(narrationVoice),
		pipeline.WithTimeouts(pipeline.Timeouts{
			Transcription: cfg.Pipeline.TranscriptionTimeout,
			Dialogue:      cfg.Pipeline.DialogueTimeout,
			Synthesis:     cfg.Pipeline.SynthesisTimeout,
		}),
		pipeline.WithRecorder(recorder),
	), nil
}

func newTranscriber(cfg *config.Config, purge storage.PurgeScheduler) (pipeline.Transcriber, error) {
	switch cfg.STT.Backend {
	case "dashscope":
		store, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("staging storage: %w", err)
		}
		opts := []storage.StagerOption{
			storage.WithPrefix(cfg.Storage.Prefix),
			storage.WithTimeout(cfg.Pipeline.StagingTimeout),
		}
		if purge != nil {
			opts = append(opts, storage.WithPurge(purge, cfg.Storage.Retention))
		}
		return stt.NewDashScope(stt.DashScopeConfig{
			APIKey:       cfg.STT.APIKey,
			BaseURL:      cfg.STT.BaseURL,
			Model:        cfg.STT.Model,
			Language:     cfg.STT.Language,
			PollInterval: cfg.STT.PollInterval,
		}, storage.NewStager(store, opts...)), nil
	case "openai":
		return stt.NewOpenAI(stt.OpenAIConfig{
			APIKey:   cfg.STT.APIKey,
			Model:    cfg.STT.Model,
			Language: cfg.STT.Language,
		}), nil
	}
	return nil, fmt.Errorf("unknown STT_BACKEND %q", cfg.STT.Backend)
}

func newResponder(cfg config.DialogueConfig) (pipeline.Responder, error) {
	var provider llm.Provider
	switch cfg.Provider {
	case "openai":
		provider = llm.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		provider = llm.NewAnthropicProvider(cfg.AnthropicKey, option.WithMaxRetries(0))
	default:
		return nil, fmt.Errorf("unknown DIALOGUE_PROVIDER %q", cfg.Provider)
	}
	return llm.NewDialogue(provider, cfg.Model, llm.WithMaxTokens(cfg.MaxTokens)), nil
}

func newEngine(cfg config.TTSConfig) (tts.Engine, error) {
	switch cfg.Backend {
	case "fishspeech":
		return tts.NewFishSpeech(tts.FishSpeechConfig{BaseURL: cfg.EngineURL, APIKey: cfg.APIKey}), nil
	case "openai":
		return tts.NewOpenAIEngine(tts.OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, Voice: cfg.Voice}), nil
	}
	return nil, fmt.Errorf("unknown TTS_BACKEND %q", cfg.Backend)
}

// writeTimeout bounds a turn response: the longest a request may wait for
// the session slot, every stage timeout, and slack for encoding.
func writeTimeout(cfg *config.Config) time.Duration {
	p := cfg.Pipeline
	return cfg.Session.QueueWait + p.StagingTimeout + p.TranscriptionTimeout + p.DialogueTimeout + p.SynthesisTimeout + 30*time.Second
}
