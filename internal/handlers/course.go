package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/services"
)

type CourseHandler struct {
	log           *logger.Logger
	courseService services.CourseService
}

func NewCourseHandler(baseLog *logger.Logger, courseService services.CourseService) *CourseHandler {
	return &CourseHandler{
		log:           baseLog.With("handler", "CourseHandler"),
		courseService: courseService,
	}
}

type createCourseRequest struct {
	Repository string `json:"repository"`
}

// Create syncs the repository, parses its course definition and stores
// it. Re-posting an already-known repository returns the existing course
// with a 200 instead of a 201.
func (h *CourseHandler) Create(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	course, created, err := h.courseService.Create(c.Request.Context(), req.Repository)
	if err != nil {
		h.log.Error("Course create failed", "repository", req.Repository, "error", err)
		RespondServiceError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, course)
}

func (h *CourseHandler) List(c *gin.Context) {
	courses, err := h.courseService.List(c.Request.Context())
	if err != nil {
		h.log.Error("Course list failed", "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, courses)
}

func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courseService.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, course)
}

// Update re-syncs the course's upstream repository and reconciles the
// stored stages and extensions with it.
func (h *CourseHandler) Update(c *gin.Context) {
	course, err := h.courseService.Update(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.log.Error("Course update failed", "slug", c.Param("slug"), "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, course)
}

func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courseService.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CourseHandler) ListStages(c *gin.Context) {
	stages, err := h.courseService.ListStages(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, stages)
}

func (h *CourseHandler) ListBaseStages(c *gin.Context) {
	stages, err := h.courseService.ListBaseStages(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, stages)
}

func (h *CourseHandler) ListExtendedStages(c *gin.Context) {
	stages, err := h.courseService.ListExtendedStages(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, stages)
}

func (h *CourseHandler) GetStage(c *gin.Context) {
	stage, err := h.courseService.GetStage(c.Request.Context(), c.Param("slug"), c.Param("stage_slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, stage)
}

func (h *CourseHandler) ListExtensions(c *gin.Context) {
	extensions, err := h.courseService.ListExtensions(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, extensions)
}

func (h *CourseHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.courseService.ListAttempts(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, attempts)
}
