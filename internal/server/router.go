package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stackclass/backend/internal/handlers"
	"github.com/stackclass/backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName  string
	AllowOrigins []string

	CourseHandler     *handlers.CourseHandler
	EnrollmentHandler *handlers.EnrollmentHandler
	StatusHandler     *handlers.StatusHandler
	WebhookHandler    *handlers.WebhookHandler
	GitHandler        *handlers.GitHandler

	AuthMiddleware    *middleware.AuthMiddleware
	AdminMiddleware   *middleware.AdminMiddleware
	WebhookMiddleware *middleware.WebhookMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middleware.AttachTraceContext())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Health
	r.GET("/healthcheck", handlers.HealthCheck)

	// Git smart HTTP plus dumb-protocol reads. Basic auth on every
	// request; the handler owns the challenge.
	if cfg.GitHandler != nil {
		git := r.Group("/git/:enrollment", cfg.GitHandler.Authenticate())
		git.GET("/info/refs", cfg.GitHandler.InfoRefs)
		git.POST("/git-upload-pack", cfg.GitHandler.UploadPack)
		git.POST("/git-receive-pack", cfg.GitHandler.ReceivePack)
		git.GET("/HEAD", cfg.GitHandler.Head)
		git.GET("/objects/*object", cfg.GitHandler.Object)
	}

	v1 := r.Group("/v1")

	// Course catalog (public reads)
	if cfg.CourseHandler != nil {
		v1.GET("/courses", cfg.CourseHandler.List)
		v1.GET("/courses/:slug", cfg.CourseHandler.Get)
		v1.GET("/courses/:slug/attempts", cfg.CourseHandler.ListAttempts)
		v1.GET("/courses/:slug/extensions", cfg.CourseHandler.ListExtensions)
		v1.GET("/courses/:slug/stages", cfg.CourseHandler.ListStages)
		v1.GET("/courses/:slug/stages/base", cfg.CourseHandler.ListBaseStages)
		v1.GET("/courses/:slug/stages/extended", cfg.CourseHandler.ListExtendedStages)
		v1.GET("/courses/:slug/stages/:stage_slug", cfg.CourseHandler.GetStage)
	}

	// Course administration (mutations)
	if cfg.CourseHandler != nil && cfg.AdminMiddleware != nil {
		admin := v1.Group("/", cfg.AdminMiddleware.RequireAdmin())
		admin.POST("/courses", cfg.CourseHandler.Create)
		admin.PATCH("/courses/:slug", cfg.CourseHandler.Update)
		admin.DELETE("/courses/:slug", cfg.CourseHandler.Delete)
	}

	// Learner enrollments and progress
	if cfg.AuthMiddleware != nil {
		user := v1.Group("/user", cfg.AuthMiddleware.RequireUser())

		if cfg.EnrollmentHandler != nil {
			user.POST("/courses", cfg.EnrollmentHandler.Enroll)
			user.GET("/courses", cfg.EnrollmentHandler.List)
			user.GET("/courses/:slug", cfg.EnrollmentHandler.Get)
			user.PATCH("/courses/:slug", cfg.EnrollmentHandler.Update)
			user.GET("/courses/:slug/stages", cfg.EnrollmentHandler.ListStageProgress)
			user.GET("/courses/:slug/stages/:stage_slug", cfg.EnrollmentHandler.GetStageProgress)
		}

		// Status streams (SSE)
		if cfg.StatusHandler != nil {
			user.GET("/courses/:slug/status", cfg.StatusHandler.CourseStatus)
			user.GET("/courses/:slug/stages/:stage_slug/status", cfg.StatusHandler.StageStatus)
		}
	}

	// Webhooks
	if cfg.WebhookHandler != nil && cfg.WebhookMiddleware != nil {
		v1.POST("/webhooks/push", cfg.WebhookMiddleware.RequireSignature(), cfg.WebhookHandler.Push)
	}

	return r
}
