package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/voicebridge/internal/api/handlers"
	"github.com/nikhilbhutani/voicebridge/internal/api/middleware"
	"github.com/nikhilbhutani/voicebridge/internal/auth"
	"github.com/nikhilbhutani/voicebridge/internal/config"
	"github.com/nikhilbhutani/voicebridge/internal/session"
)

type Router struct {
	mux      *chi.Mux
	cfg      *config.Config
	sessions *session.Manager
	pipeline handlers.Pipeline
	health   *handlers.HealthHandler
	runs     handlers.RunLister
	jwt      *auth.JWTMiddleware
	limiter  *middleware.RateLimiter
}

type Option func(*Router)

// WithRunLister exposes the run audit trail at /api/v1/runs.
func WithRunLister(l handlers.RunLister) Option {
	return func(rt *Router) { rt.runs = l }
}

func NewRouter(ctx context.Context, cfg *config.Config, sessions *session.Manager, p handlers.Pipeline, health *handlers.HealthHandler, opts ...Option) *Router {
	rt := &Router{
		mux:      chi.NewRouter(),
		cfg:      cfg,
		sessions: sessions,
		pipeline: p,
		health:   health,
		limiter:  middleware.NewRateLimiter(ctx, float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst),
	}
	if cfg.Auth.JWTSecret != "" {
		rt.jwt = auth.NewJWTMiddleware(cfg.Auth.JWTSecret)
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	// Health endpoints (no auth, no rate limit)
	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)

	sessionH := handlers.NewSessionHandler(rt.sessions, rt.cfg.Session.SystemPrompt)
	voiceH := handlers.NewVoiceHandler(rt.sessions, rt.pipeline, rt.cfg.Session.QueueWait)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.limiter.Limit)
		if rt.jwt != nil {
			r.Use(rt.jwt.Authenticate)
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionH.Create)
			r.Get("/{id}", sessionH.Get)
			r.Delete("/{id}", sessionH.Delete)
			r.Post("/{id}/turns", voiceH.Turn)
		})

		r.Post("/narrate", voiceH.Narrate)

		if rt.runs != nil {
			r.Get("/runs", handlers.NewRunsHandler(rt.runs).List)
		}
	})

	return r
}
