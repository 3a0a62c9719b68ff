package handlers

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stackclass/backend/internal/pipeline"
	"github.com/stackclass/backend/internal/platform/logger"
)

// pushNotification is the inbound push contract. The repository path's
// basename (minus the .git suffix) names the enrollment.
type pushNotification struct {
	RepositoryPath string `json:"repository_path"`
	Ref            string `json:"ref"`
	BeforeSHA      string `json:"before_sha"`
	AfterSHA       string `json:"after_sha"`
	PusherIdentity string `json:"pusher_identity"`
}

type WebhookHandler struct {
	log    *logger.Logger
	intake pipeline.Intake
}

func NewWebhookHandler(baseLog *logger.Logger, intake pipeline.Intake) *WebhookHandler {
	return &WebhookHandler{
		log:    baseLog.With("handler", "WebhookHandler"),
		intake: intake,
	}
}

// Push accepts one push notification and hands it to the pipeline. The
// response never waits on processing; duplicate deliveries are harmless
// because applying a verdict twice changes nothing.
func (h *WebhookHandler) Push(c *gin.Context) {
	var notification pushNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	enrollmentID, err := enrollmentFromRepoPath(notification.RepositoryPath)
	if err != nil {
		h.log.Warn("Push for unrecognizable repository dropped",
			"repository_path", notification.RepositoryPath, "ref", notification.Ref)
		RespondError(c, http.StatusBadRequest, "invalid_repository_path", err)
		return
	}

	h.intake.Enqueue(pipeline.PushEvent{
		EnrollmentID: enrollmentID,
		RepoPath:     notification.RepositoryPath,
		Ref:          notification.Ref,
		Before:       notification.BeforeSHA,
		After:        notification.AfterSHA,
		Pusher:       notification.PusherIdentity,
		ReceivedAt:   time.Now().UTC(),
	})

	RespondOK(c, gin.H{"status": "queued"})
}

func enrollmentFromRepoPath(repoPath string) (uuid.UUID, error) {
	name := strings.TrimSuffix(path.Base(repoPath), ".git")
	return uuid.Parse(name)
}
