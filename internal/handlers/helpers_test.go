package handlers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stackclass/backend/internal/gitserver"
	"github.com/stackclass/backend/internal/pipeline"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/services"
	"github.com/stackclass/backend/internal/types"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testEnrollment() *types.Enrollment {
	id := uuid.New()
	slug := "bind-port"
	now := time.Now().UTC()
	return &types.Enrollment{
		ID:                  id,
		UserID:              "learner-1",
		CourseID:            uuid.New(),
		CourseSlug:          "redis",
		CurrentStageSlug:    &slug,
		CompletedStageCount: 1,
		Activated:           true,
		RepoPath:            filepath.Join("/data/repos", id.String()+".git"),
		StartedAt:           now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Stubs embed the service interface they stand in for; tests only reach
// the methods they override.

type stubEnrollments struct {
	services.EnrollmentService
	enrollment *types.Enrollment
	authErr    error
	getErr     error
}

func (s *stubEnrollments) AuthorizeGit(_ context.Context, _, _, _ string) (*types.Enrollment, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.enrollment, nil
}

func (s *stubEnrollments) Get(_ context.Context, _, _ string) (*types.Enrollment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.enrollment, nil
}

func (s *stubEnrollments) CloneURL(enrollment *types.Enrollment) string {
	return "https://git.test/git/" + enrollment.ID.String() + ".git"
}

type stubCourses struct {
	services.CourseService
	stage    *types.Stage
	stageErr error
}

func (s *stubCourses) GetStage(_ context.Context, _, _ string) (*types.Stage, error) {
	if s.stageErr != nil {
		return nil, s.stageErr
	}
	return s.stage, nil
}

type stubProgress struct {
	services.ProgressService
	row *types.StageProgress
	err error
}

func (s *stubProgress) GetStageProgress(_ context.Context, _ uuid.UUID, _ string) (*types.StageProgress, error) {
	return s.row, s.err
}

type capturingIntake struct {
	mu     sync.Mutex
	events []pipeline.PushEvent
}

func (c *capturingIntake) Enqueue(ev pipeline.PushEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturingIntake) all() []pipeline.PushEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.PushEvent(nil), c.events...)
}

type stubGitService struct {
	advertisement []byte
	uploadOut     []byte
	receiveOut    []byte
	updates       []gitserver.RefUpdate
	err           error
	files         map[string][]byte

	repo    string
	service string
	body    []byte
}

func (s *stubGitService) Exists(string) bool { return true }

func (s *stubGitService) AdvertiseRefs(_ context.Context, repo, service string) ([]byte, error) {
	s.repo, s.service = repo, service
	return s.advertisement, s.err
}

func (s *stubGitService) UploadPack(_ context.Context, repo string, body []byte) ([]byte, error) {
	s.repo, s.body = repo, body
	return s.uploadOut, s.err
}

func (s *stubGitService) ReceivePack(_ context.Context, repo string, body []byte) ([]byte, []gitserver.RefUpdate, error) {
	s.repo, s.body = repo, body
	return s.receiveOut, s.updates, s.err
}

func (s *stubGitService) ReadFile(repo, file string) ([]byte, error) {
	s.repo = repo
	data, ok := s.files[file]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func newGitRouter(h *GitHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	git := r.Group("/git/:enrollment", h.Authenticate())
	git.GET("/info/refs", h.InfoRefs)
	git.POST("/git-upload-pack", h.UploadPack)
	git.POST("/git-receive-pack", h.ReceivePack)
	git.GET("/HEAD", h.Head)
	git.GET("/objects/*object", h.Object)
	return r
}
