package app

import (
	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ServiceName:  cfg.ServiceName,
		AllowOrigins: cfg.AllowOrigins,

		CourseHandler:     handlers.Course,
		EnrollmentHandler: handlers.Enrollment,
		StatusHandler:     handlers.Status,
		WebhookHandler:    handlers.Webhook,
		GitHandler:        handlers.Git,

		AuthMiddleware:    middleware.Auth,
		AdminMiddleware:   middleware.Admin,
		WebhookMiddleware: middleware.Webhook,
	})
}
