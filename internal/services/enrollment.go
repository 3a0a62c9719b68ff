package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/mirror"
	"github.com/stackclass/backend/internal/platform/apierr"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/types"
)

// gitTokenBytes sizes the per-enrollment git password. 24 bytes of
// entropy hex-encode to 48 characters, comfortably under bcrypt's
// 72-byte input cap.
const gitTokenBytes = 24

// EnrollRequest is the payload for starting a course.
type EnrollRequest struct {
	CourseSlug     string `json:"course_slug"`
	Proficiency    string `json:"proficiency"`
	Cadence        string `json:"cadence"`
	Accountability bool   `json:"accountability"`
}

// UpdateEnrollmentRequest updates learner preferences. Nil fields are
// left untouched.
type UpdateEnrollmentRequest struct {
	Proficiency    *string `json:"proficiency"`
	Cadence        *string `json:"cadence"`
	Accountability *bool   `json:"accountability"`
}

// EnrollOutcome carries the new enrollment plus the credentials the
// learner needs to push. GitToken is shown exactly once: only its
// bcrypt hash is stored.
type EnrollOutcome struct {
	Enrollment *types.Enrollment
	CloneURL   string
	GitToken   string
}

type EnrollmentService interface {
	// Enroll provisions a personal repository from the course template
	// and creates the enrollment row. Provisioning happens before the
	// insert; if the insert fails the repository is removed again.
	Enroll(ctx context.Context, userID string, req EnrollRequest) (*EnrollOutcome, error)

	List(ctx context.Context, userID string) ([]*types.Enrollment, error)

	// Get returns the user's enrollment in the course named by slug.
	Get(ctx context.Context, userID, courseSlug string) (*types.Enrollment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*types.Enrollment, error)

	Update(ctx context.Context, userID, courseSlug string, req UpdateEnrollmentRequest) (*types.Enrollment, error)

	// AuthorizeGit authenticates one git HTTP request: the path segment
	// must name an enrollment, the username must be its owner and the
	// password must match its git token. Fetch and push are owner-only.
	AuthorizeGit(ctx context.Context, enrollmentParam, username, password string) (*types.Enrollment, error)

	// CloneURL derives the learner-facing clone URL for an enrollment.
	CloneURL(enrollment *types.Enrollment) string
}

type enrollmentService struct {
	db             *gorm.DB
	log            *logger.Logger
	provisioner    mirror.Provisioner
	courseRepo     repos.CourseRepo
	enrollmentRepo repos.EnrollmentRepo

	repoRoot     string
	cloneBaseURL string
}

func NewEnrollmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	provisioner mirror.Provisioner,
	courseRepo repos.CourseRepo,
	enrollmentRepo repos.EnrollmentRepo,
	repoRoot string,
	cloneBaseURL string,
) EnrollmentService {
	return &enrollmentService{
		db:             db,
		log:            baseLog.With("service", "EnrollmentService"),
		provisioner:    provisioner,
		courseRepo:     courseRepo,
		enrollmentRepo: enrollmentRepo,
		repoRoot:       repoRoot,
		cloneBaseURL:   strings.TrimRight(cloneBaseURL, "/"),
	}
}

func (s *enrollmentService) Enroll(ctx context.Context, userID string, req EnrollRequest) (*EnrollOutcome, error) {
	if userID == "" {
		return nil, apierr.BadRequest("missing_user", fmt.Errorf("user id is required"))
	}
	if req.CourseSlug == "" {
		return nil, apierr.BadRequest("missing_course_slug", fmt.Errorf("course_slug is required"))
	}

	course, err := s.courseRepo.GetBySlug(ctx, nil, req.CourseSlug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("course_not_found", err)
	}
	if err != nil {
		return nil, err
	}

	existing, err := s.enrollmentRepo.GetByUserAndCourseID(ctx, nil, userID, course.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.Conflict("already_enrolled",
			fmt.Errorf("user already enrolled in course %q", course.Slug))
	}

	id := uuid.New()
	dest := filepath.Join(s.repoRoot, id.String()+".git")
	if err := s.provisioner.ProvisionForCourse(ctx, course.Slug, course.Repository, dest); err != nil {
		return nil, err
	}

	token, err := generateGitToken()
	if err != nil {
		os.RemoveAll(dest)
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		os.RemoveAll(dest)
		return nil, err
	}

	now := time.Now().UTC()
	enrollment := &types.Enrollment{
		ID:             id,
		UserID:         userID,
		CourseID:       course.ID,
		CourseSlug:     course.Slug,
		Proficiency:    req.Proficiency,
		Cadence:        req.Cadence,
		Accountability: req.Accountability,
		RepoPath:       dest,
		GitTokenHash:   string(hash),
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.enrollmentRepo.Create(ctx, nil, enrollment); err != nil {
		os.RemoveAll(dest)
		return nil, err
	}

	s.log.Info("Enrollment created",
		"enrollment_id", enrollment.ID, "course_slug", course.Slug, "user_id", userID)
	return &EnrollOutcome{
		Enrollment: enrollment,
		CloneURL:   s.CloneURL(enrollment),
		GitToken:   token,
	}, nil
}

func (s *enrollmentService) List(ctx context.Context, userID string) ([]*types.Enrollment, error) {
	return s.enrollmentRepo.ListByUserID(ctx, nil, userID)
}

func (s *enrollmentService) Get(ctx context.Context, userID, courseSlug string) (*types.Enrollment, error) {
	enrollment, err := s.enrollmentRepo.GetByUserAndCourseSlug(ctx, nil, userID, courseSlug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("enrollment_not_found", err)
	}
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *enrollmentService) GetByID(ctx context.Context, id uuid.UUID) (*types.Enrollment, error) {
	enrollment, err := s.enrollmentRepo.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("enrollment_not_found", err)
	}
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *enrollmentService) Update(ctx context.Context, userID, courseSlug string, req UpdateEnrollmentRequest) (*types.Enrollment, error) {
	enrollment, err := s.Get(ctx, userID, courseSlug)
	if err != nil {
		return nil, err
	}

	if req.Proficiency != nil {
		enrollment.Proficiency = *req.Proficiency
	}
	if req.Cadence != nil {
		enrollment.Cadence = *req.Cadence
	}
	if req.Accountability != nil {
		enrollment.Accountability = *req.Accountability
	}
	enrollment.UpdatedAt = time.Now().UTC()

	if err := s.enrollmentRepo.Save(ctx, nil, enrollment); err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *enrollmentService) AuthorizeGit(ctx context.Context, enrollmentParam, username, password string) (*types.Enrollment, error) {
	id, err := uuid.Parse(strings.TrimSuffix(enrollmentParam, ".git"))
	if err != nil {
		return nil, apierr.NotFound("enrollment_not_found", fmt.Errorf("malformed enrollment id"))
	}

	enrollment, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if username != enrollment.UserID {
		return nil, apierr.Unauthorized("bad_credentials", fmt.Errorf("credentials do not match repository owner"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(enrollment.GitTokenHash), []byte(password)); err != nil {
		return nil, apierr.Unauthorized("bad_credentials", fmt.Errorf("credentials do not match repository owner"))
	}
	return enrollment, nil
}

func (s *enrollmentService) CloneURL(enrollment *types.Enrollment) string {
	return fmt.Sprintf("%s/git/%s.git", s.cloneBaseURL, enrollment.ID)
}

func generateGitToken() (string, error) {
	buf := make([]byte, gitTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate git token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
