package handlers

import (
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/gitserver"
	"github.com/stackclass/backend/internal/pipeline"
	"github.com/stackclass/backend/internal/platform/apierr"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/services"
	"github.com/stackclass/backend/internal/types"
)

const enrollmentKey = "git.enrollment"

// GitHandler exposes learner repositories over the git smart HTTP
// protocol, with dumb-protocol file reads as a fallback for plain HTTP
// clients. Confirmed pushes feed the verification pipeline; the git
// client never waits on it.
type GitHandler struct {
	log         *logger.Logger
	server      gitserver.Service
	enrollments services.EnrollmentService
	intake      pipeline.Intake
}

func NewGitHandler(
	baseLog *logger.Logger,
	server gitserver.Service,
	enrollments services.EnrollmentService,
	intake pipeline.Intake,
) *GitHandler {
	return &GitHandler{
		log:         baseLog.With("handler", "GitHandler"),
		server:      server,
		enrollments: enrollments,
		intake:      intake,
	}
}

// Authenticate guards every git route. A missing Authorization header
// draws the Basic challenge so clients know to prompt; bad credentials
// draw it again. The authorized enrollment is stashed for the route
// handler.
func (h *GitHandler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			h.challenge(c)
			return
		}

		enrollment, err := h.enrollments.AuthorizeGit(
			c.Request.Context(), c.Param("enrollment"), username, password)
		if err != nil {
			if apiErr := apierr.From(err); apiErr != nil && apiErr.Status == http.StatusUnauthorized {
				h.challenge(c)
				return
			}
			RespondServiceError(c, err)
			c.Abort()
			return
		}

		c.Set(enrollmentKey, enrollment)
		c.Next()
	}
}

func (h *GitHandler) challenge(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="stackclass"`)
	RespondError(c, http.StatusUnauthorized, "git_auth_required", nil)
	c.Abort()
}

func (h *GitHandler) enrollment(c *gin.Context) *types.Enrollment {
	return c.MustGet(enrollmentKey).(*types.Enrollment)
}

func (h *GitHandler) repoName(c *gin.Context) string {
	return filepath.Base(h.enrollment(c).RepoPath)
}

// InfoRefs answers ref discovery. With a service parameter this is the
// smart advertisement; without one it degrades to the dumb protocol's
// plain info/refs file.
func (h *GitHandler) InfoRefs(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		h.serveDumb(c, "info/refs")
		return
	}
	if service != gitserver.UploadPackService && service != gitserver.ReceivePackService {
		RespondError(c, http.StatusBadRequest, "invalid_service", gitserver.ErrInvalidService)
		return
	}

	advertisement, err := h.server.AdvertiseRefs(c.Request.Context(), h.repoName(c), service)
	if err != nil {
		h.log.Error("Ref advertisement failed", "repo", h.repoName(c), "error", err)
		RespondError(c, http.StatusInternalServerError, "git_advertise_failed", err)
		return
	}

	noCache(c)
	c.Data(http.StatusOK, "application/x-"+service+"-advertisement", advertisement)
}

func (h *GitHandler) UploadPack(c *gin.Context) {
	body, err := h.requestBody(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	out, err := h.server.UploadPack(c.Request.Context(), h.repoName(c), body)
	if err != nil {
		h.log.Error("upload-pack failed", "repo", h.repoName(c), "error", err)
		RespondError(c, http.StatusInternalServerError, "git_upload_pack_failed", err)
		return
	}

	noCache(c)
	c.Data(http.StatusOK, "application/x-git-upload-pack-result", out)
}

// ReceivePack runs the push, then enqueues one pipeline event per ref
// transition the repository actually applied. Enqueueing never delays
// the response to the git client.
func (h *GitHandler) ReceivePack(c *gin.Context) {
	body, err := h.requestBody(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	enrollment := h.enrollment(c)
	out, updates, err := h.server.ReceivePack(c.Request.Context(), h.repoName(c), body)
	if err != nil {
		h.log.Error("receive-pack failed", "repo", h.repoName(c), "error", err)
		RespondError(c, http.StatusInternalServerError, "git_receive_pack_failed", err)
		return
	}

	for _, update := range updates {
		h.intake.Enqueue(pipeline.PushEvent{
			EnrollmentID: enrollment.ID,
			RepoPath:     enrollment.RepoPath,
			Ref:          update.Ref,
			Before:       update.Before,
			After:        update.After,
			Pusher:       enrollment.UserID,
			ReceivedAt:   time.Now().UTC(),
		})
	}

	noCache(c)
	c.Data(http.StatusOK, "application/x-git-receive-pack-result", out)
}

// Head serves the repository's HEAD file for dumb clients.
func (h *GitHandler) Head(c *gin.Context) {
	h.serveDumb(c, "HEAD")
}

// Object serves loose objects, pack files and pack indexes. Object
// content is immutable, so it is the one thing clients may cache.
func (h *GitHandler) Object(c *gin.Context) {
	file := strings.TrimPrefix(c.Param("object"), "/")
	h.serveDumb(c, "objects/"+file)
}

func (h *GitHandler) serveDumb(c *gin.Context, file string) {
	data, err := h.server.ReadFile(h.repoName(c), file)
	if os.IsNotExist(err) {
		RespondError(c, http.StatusNotFound, "git_file_not_found", nil)
		return
	}
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_git_path", err)
		return
	}

	contentType, cacheable := dumbFileType(file)
	if cacheable {
		c.Header("Cache-Control", "public, max-age=31536000")
	} else {
		noCache(c)
	}
	c.Data(http.StatusOK, contentType, data)
}

// requestBody buffers the request, transparently inflating bodies the
// client chose to gzip.
func (h *GitHandler) requestBody(c *gin.Context) ([]byte, error) {
	var reader io.Reader = c.Request.Body
	if strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func dumbFileType(file string) (contentType string, cacheable bool) {
	switch {
	case strings.HasSuffix(file, ".pack"):
		return "application/x-git-packed-objects", true
	case strings.HasSuffix(file, ".idx"):
		return "application/x-git-packed-objects-toc", true
	case strings.HasPrefix(file, "objects/info/"):
		return "text/plain; charset=utf-8", false
	case strings.HasPrefix(file, "objects/"):
		return "application/x-git-loose-object", true
	default:
		return "text/plain; charset=utf-8", false
	}
}

func noCache(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, max-age=0, must-revalidate")
}
