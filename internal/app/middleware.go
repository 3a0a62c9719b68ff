package app

import (
	"github.com/stackclass/backend/internal/middleware"
	"github.com/stackclass/backend/internal/platform/logger"
)

type Middleware struct {
	Auth    *middleware.AuthMiddleware
	Admin   *middleware.AdminMiddleware
	Webhook *middleware.WebhookMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:    middleware.NewAuthMiddleware(log, cfg.JWTSecretKey),
		Admin:   middleware.NewAdminMiddleware(log, cfg.AdminPassword),
		Webhook: middleware.NewWebhookMiddleware(log, cfg.WebhookSecret),
	}
}
