package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/middleware"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/realtime"
	"github.com/stackclass/backend/internal/services"
)

// StatusHandler streams progress over server-sent events. Every stream
// opens with a snapshot of the persisted state, then carries one frame
// per verified push until the client goes away.
type StatusHandler struct {
	log         *logger.Logger
	hub         *realtime.Hub
	enrollments services.EnrollmentService
	courses     services.CourseService
	progress    services.ProgressService
}

func NewStatusHandler(
	baseLog *logger.Logger,
	hub *realtime.Hub,
	enrollments services.EnrollmentService,
	courses services.CourseService,
	progress services.ProgressService,
) *StatusHandler {
	return &StatusHandler{
		log:         baseLog.With("handler", "StatusHandler"),
		hub:         hub,
		enrollments: enrollments,
		courses:     courses,
		progress:    progress,
	}
}

// CourseStatus streams the enrollment-level aggregate: activation,
// completed stage count and the current stage.
func (h *StatusHandler) CourseStatus(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), middleware.UserID(c), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	snapshot, err := json.Marshal(services.CoursePayloadFrom(enrollment))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "snapshot_failed", err)
		return
	}

	h.stream(c, realtime.CourseScope(enrollment.ID), snapshot)
}

// StageStatus streams one stage's progress. A stage the learner has not
// pushed to yet snapshots as in_progress with no test result.
func (h *StatusHandler) StageStatus(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), middleware.UserID(c), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	stage, err := h.courses.GetStage(c.Request.Context(), c.Param("slug"), c.Param("stage_slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	row, err := h.progress.GetStageProgress(c.Request.Context(), enrollment.ID, stage.Slug)
	if err != nil {
		h.log.Error("Stage snapshot read failed", "enrollmentID", enrollment.ID, "error", err)
		RespondServiceError(c, err)
		return
	}

	snapshot, err := json.Marshal(services.StagePayloadFrom(row))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "snapshot_failed", err)
		return
	}

	h.stream(c, realtime.StageScope(enrollment.ID, stage.Slug), snapshot)
}

func (h *StatusHandler) stream(c *gin.Context, scope realtime.Scope, snapshot []byte) {
	sub := h.hub.Subscribe(scope)
	defer h.hub.Unsubscribe(sub)

	h.hub.ServeHTTP(c.Writer, c.Request, sub, snapshot)
}
