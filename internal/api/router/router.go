package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/chatbot-relay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatbot-relay/internal/http/middleware"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger
	Health *handlers.HealthHandler

	// Channel webhooks; nil disables the route.
	TelegramWebhook http.Handler
	WhatsAppWebhook http.Handler

	MetricsHandler  http.Handler
	AdminAuthSecret string
	AdminHandler    *handlers.AdminConversationsHandler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil, cfg.Logger)
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health.Live)
		public.Get("/ready", health.Ready)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		webhooks := public.With(httpmiddleware.NoWriteDeadline)
		if cfg.TelegramWebhook != nil {
			webhooks.Method(http.MethodPost, "/webhooks/telegram", cfg.TelegramWebhook)
		}
		if cfg.WhatsAppWebhook != nil {
			webhooks.Method(http.MethodPost, "/chatbot-message", cfg.WhatsAppWebhook)
		}
	})

	if cfg.AdminHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/conversations/{userToken}", cfg.AdminHandler.GetConversation)
			admin.Get("/conversations/{userToken}/events", cfg.AdminHandler.ListEvents)
		})
	}

	return r
}
