package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/claudebot/internal/middleware"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Health *HealthHandler
	// Webhook receives Telegram updates when non-nil.
	Webhook       http.Handler
	WebhookPath   string
	WebhookSecret string
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(r)
	}

	if cfg.Webhook != nil {
		path := cfg.WebhookPath
		if path == "" {
			path = "/telegram/webhook"
		}
		r.With(middleware.WebhookSecret(cfg.WebhookSecret)).Post(path, cfg.Webhook.ServeHTTP)
	}

	return r
}
