package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/middleware"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/services"
	"github.com/stackclass/backend/internal/types"
)

type EnrollmentHandler struct {
	log         *logger.Logger
	enrollments services.EnrollmentService
	progress    services.ProgressService
}

func NewEnrollmentHandler(
	baseLog *logger.Logger,
	enrollments services.EnrollmentService,
	progress services.ProgressService,
) *EnrollmentHandler {
	return &EnrollmentHandler{
		log:         baseLog.With("handler", "EnrollmentHandler"),
		enrollments: enrollments,
		progress:    progress,
	}
}

// RepositoryInfo points the learner at their personal repository.
// GitToken is only present in the enroll response; it cannot be
// recovered later.
type RepositoryInfo struct {
	CloneURL string `json:"clone_url"`
	GitToken string `json:"git_token,omitempty"`
}

type EnrollmentResponse struct {
	*types.Enrollment
	Repository RepositoryInfo `json:"repository"`
}

func (h *EnrollmentHandler) response(enrollment *types.Enrollment, token string) *EnrollmentResponse {
	return &EnrollmentResponse{
		Enrollment: enrollment,
		Repository: RepositoryInfo{
			CloneURL: h.enrollments.CloneURL(enrollment),
			GitToken: token,
		},
	}
}

// Enroll provisions the learner's repository and returns it together
// with the one-time git token.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req services.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	outcome, err := h.enrollments.Enroll(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		h.log.Error("Enroll failed", "course_slug", req.CourseSlug, "error", err)
		RespondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, &EnrollmentResponse{
		Enrollment: outcome.Enrollment,
		Repository: RepositoryInfo{CloneURL: outcome.CloneURL, GitToken: outcome.GitToken},
	})
}

func (h *EnrollmentHandler) List(c *gin.Context) {
	enrollments, err := h.enrollments.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.log.Error("Enrollment list failed", "error", err)
		RespondServiceError(c, err)
		return
	}

	resp := make([]*EnrollmentResponse, 0, len(enrollments))
	for _, enrollment := range enrollments {
		resp = append(resp, h.response(enrollment, ""))
	}
	RespondOK(c, resp)
}

func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), middleware.UserID(c), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, h.response(enrollment, ""))
}

func (h *EnrollmentHandler) Update(c *gin.Context) {
	var req services.UpdateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	enrollment, err := h.enrollments.Update(c.Request.Context(), middleware.UserID(c), c.Param("slug"), req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, h.response(enrollment, ""))
}

// ListStageProgress returns the learner's per-stage rows for a course,
// in course order. Stages never pushed to have no row.
func (h *EnrollmentHandler) ListStageProgress(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), middleware.UserID(c), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	rows, err := h.progress.ListStageProgress(c.Request.Context(), enrollment.ID)
	if err != nil {
		h.log.Error("Stage progress list failed", "enrollmentID", enrollment.ID, "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, rows)
}

func (h *EnrollmentHandler) GetStageProgress(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), middleware.UserID(c), c.Param("slug"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	row, err := h.progress.GetStageProgress(c.Request.Context(), enrollment.ID, c.Param("stage_slug"))
	if err != nil {
		h.log.Error("Stage progress read failed", "enrollmentID", enrollment.ID, "error", err)
		RespondServiceError(c, err)
		return
	}
	if row == nil {
		RespondError(c, http.StatusNotFound, "stage_progress_not_found", nil)
		return
	}
	RespondOK(c, row)
}
