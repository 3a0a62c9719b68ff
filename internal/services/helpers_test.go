package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/db"
	"github.com/stackclass/backend/internal/platform/logger"
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

func seedCourse(t *testing.T, database *gorm.DB, slug, repository string, stageSlugs ...string) (*types.Course, []*types.Stage) {
	t.Helper()
	now := time.Now().UTC()

	course := &types.Course{
		ID:         uuid.New(),
		Slug:       slug,
		Name:       slug,
		ShortName:  slug,
		Repository: repository,
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

func seedEnrollment(t *testing.T, database *gorm.DB, course *types.Course, userID string) *types.Enrollment {
	t.Helper()
	now := time.Now().UTC()

	enrollment := &types.Enrollment{
		ID:           uuid.New(),
		UserID:       userID,
		CourseID:     course.ID,
		CourseSlug:   course.Slug,
		RepoPath:     filepath.Join(t.TempDir(), "learner.git"),
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
