package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/db"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return database
}

func seedCourse(t *testing.T, database *gorm.DB, slug string, stageSlugs ...string) (*types.Course, []*types.Stage) {
	t.Helper()
	now := time.Now().UTC()

	course := &types.Course{
		ID:         uuid.New(),
		Slug:       slug,
		Name:       slug,
		ShortName:  slug,
		Repository: "https://example.test/" + slug + ".git",
		StageCount: len(stageSlugs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := database.Create(course).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}

	stages := make([]*types.Stage, 0, len(stageSlugs))
	for i, stageSlug := range stageSlugs {
		stage := &types.Stage{
			ID:        uuid.New(),
			CourseID:  course.ID,
			Slug:      stageSlug,
			Name:      stageSlug,
			Weight:    i + 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := database.Create(stage).Error; err != nil {
			t.Fatalf("seed stage %q: %v", stageSlug, err)
		}
		stages = append(stages, stage)
	}
	return course, stages
}

func seedEnrollment(t *testing.T, database *gorm.DB, course *types.Course, userID, repoPath string) *types.Enrollment {
	t.Helper()
	now := time.Now().UTC()

	enrollment := &types.Enrollment{
		ID:           uuid.New(),
		UserID:       userID,
		CourseID:     course.ID,
		CourseSlug:   course.Slug,
		RepoPath:     repoPath,
		GitTokenHash: "unused",
		StartedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := database.Create(enrollment).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
	return enrollment
}

// capturingNotifier records ProgressApplied calls for assertions.
type capturingNotifier struct {
	calls []appliedCall
}

type appliedCall struct {
	enrollment *types.Enrollment
	progress   *types.StageProgress
}

func (n *capturingNotifier) ProgressApplied(enrollment *types.Enrollment, progress *types.StageProgress) {
	n.calls = append(n.calls, appliedCall{enrollment: enrollment, progress: progress})
}

// blockingVerifier waits for ctx to expire, the way a hung verifier
// command would under its deadline.
type blockingVerifier struct{}

func (v *blockingVerifier) Verify(ctx context.Context, req VerifyRequest) (types.TestResult, error) {
	<-ctx.Done()
	return types.TestResultFailed, &VerifierError{StageSlug: req.StageSlug, Err: ctx.Err()}
}

// failingProgress always fails Apply with the configured error.
type failingProgress struct {
	err   error
	calls int
}

func (f *failingProgress) Apply(ctx context.Context, req services.ApplyRequest) (*services.ApplyOutcome, error) {
	f.calls++
	return nil, f.err
}

func (f *failingProgress) ListStageProgress(ctx context.Context, enrollmentID uuid.UUID) ([]*types.StageProgress, error) {
	return nil, nil
}

func (f *failingProgress) GetStageProgress(ctx context.Context, enrollmentID uuid.UUID, stageSlug string) (*types.StageProgress, error) {
	return nil, nil
}

func newTestProcessor(t *testing.T, database *gorm.DB, verifier Verifier, progress services.ProgressService, notifier services.ProgressNotifier, cfg ProcessorConfig) Processor {
	t.Helper()
	log := mustTestLogger(t)

	enrollmentRepo := repos.NewEnrollmentRepo(database, log)
	courseRepo := repos.NewCourseRepo(database, log)
	stageRepo := repos.NewStageRepo(database, log)
	deadLetterRepo := repos.NewDeadLetterRepo(database, log)

	if progress == nil {
		progress = services.NewProgressService(database, log,
			enrollmentRepo, stageRepo, repos.NewStageProgressRepo(database, log))
	}
	resolver := NewResolver(stageRepo, log)

	return NewProcessor(log, resolver, verifier, progress, notifier,
		enrollmentRepo, courseRepo, stageRepo, deadLetterRepo, cfg)
}
