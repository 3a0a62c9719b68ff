package app

import (
	"github.com/stackclass/backend/internal/handlers"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/realtime"
)

type Handlers struct {
	Course     *handlers.CourseHandler
	Enrollment *handlers.EnrollmentHandler
	Status     *handlers.StatusHandler
	Webhook    *handlers.WebhookHandler
	Git        *handlers.GitHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Course:     handlers.NewCourseHandler(log, services.Course),
		Enrollment: handlers.NewEnrollmentHandler(log, services.Enrollment, services.Progress),
		Status:     handlers.NewStatusHandler(log, hub, services.Enrollment, services.Course, services.Progress),
		Webhook:    handlers.NewWebhookHandler(log, services.Dispatcher),
		Git:        handlers.NewGitHandler(log, services.GitServer, services.Enrollment, services.Dispatcher),
	}
}
