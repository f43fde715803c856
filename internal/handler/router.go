package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chatsync/internal/hub"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Chats    *service.ChatService
	Messages *service.MessageService
	Hub      *hub.Hub
	Logger   *logger.Logger

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string

	// Ready lists the dependencies checked by /ready.
	Ready map[string]Pinger
}

// NewRouter builds the HTTP router. Chat endpoints live under /api.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	healthHandler := NewHealthHandler(cfg.Ready)
	chatHandler := NewChatHandler(cfg.Chats, cfg.Messages, log)
	socketHandler := NewSocketHandler(cfg.Chats, cfg.Messages, cfg.Hub, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins...))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", chatHandler.List)
			r.Post("/", chatHandler.Create)

			r.Get("/ws/{id}", socketHandler.Serve)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", chatHandler.Get)
				r.Patch("/", chatHandler.Update)

				r.Get("/messages", chatHandler.Messages)
				r.Post("/messages", chatHandler.AddMessage)
			})
		})
	})

	return r
}
