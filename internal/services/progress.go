package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/types"
)

// ApplyRequest carries one verification verdict into the progress store.
type ApplyRequest struct {
	Enrollment *types.Enrollment
	Stage      *types.Stage
	Result     types.TestResult
}

// ApplyOutcome returns the rows as persisted, for snapshot publishing.
type ApplyOutcome struct {
	Enrollment *types.Enrollment
	Progress   *types.StageProgress
}

// ProgressService owns every write to the progress tables. Apply runs in
// one transaction so a crash mid-event never leaves the per-stage rows
// and the enrollment aggregates disagreeing.
type ProgressService interface {
	// Apply records a verification result for one stage attempt. It is
	// idempotent: replaying the same verdict leaves every row unchanged
	// except UpdatedAt.
	Apply(ctx context.Context, req ApplyRequest) (*ApplyOutcome, error)

	// ListStageProgress returns the enrollment's per-stage rows in course
	// order. Stages never pushed to have no row.
	ListStageProgress(ctx context.Context, enrollmentID uuid.UUID) ([]*types.StageProgress, error)

	// GetStageProgress returns the row for one stage, or nil when the
	// learner has not pushed to it yet.
	GetStageProgress(ctx context.Context, enrollmentID uuid.UUID, stageSlug string) (*types.StageProgress, error)
}

type progressService struct {
	db             *gorm.DB
	log            *logger.Logger
	enrollmentRepo repos.EnrollmentRepo
	stageRepo      repos.StageRepo
	progressRepo   repos.StageProgressRepo
}

func NewProgressService(
	db *gorm.DB,
	baseLog *logger.Logger,
	enrollmentRepo repos.EnrollmentRepo,
	stageRepo repos.StageRepo,
	progressRepo repos.StageProgressRepo,
) ProgressService {
	return &progressService{
		db:             db,
		log:            baseLog.With("service", "ProgressService"),
		enrollmentRepo: enrollmentRepo,
		stageRepo:      stageRepo,
		progressRepo:   progressRepo,
	}
}

// Apply upserts the stage row, then recomputes the enrollment aggregates
// from the rows rather than incrementing them, so replays and races with
// course edits cannot drift the counters. Row locks are unnecessary: the
// pipeline's per-enrollment FIFO makes this the only writer for the
// enrollment's progress.
func (s *progressService) Apply(ctx context.Context, req ApplyRequest) (*ApplyOutcome, error) {
	if req.Enrollment == nil || req.Stage == nil {
		return nil, fmt.Errorf("progress apply: enrollment and stage are required")
	}
	if req.Result != types.TestResultPassed && req.Result != types.TestResultFailed {
		return nil, fmt.Errorf("progress apply: unknown test result %q", req.Result)
	}

	var outcome *ApplyOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		enrollment, err := s.enrollmentRepo.GetByID(ctx, tx, req.Enrollment.ID)
		if err != nil {
			return err
		}

		progress, err := s.progressRepo.GetByEnrollmentAndStage(ctx, tx, enrollment.ID, req.Stage.ID)
		if err != nil {
			return err
		}

		if progress == nil {
			progress = &types.StageProgress{
				ID:           uuid.New(),
				EnrollmentID: enrollment.ID,
				StageID:      req.Stage.ID,
				StageSlug:    req.Stage.Slug,
				Status:       types.StageStatusInProgress,
				Test:         req.Result,
				StartedAt:    now,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			applyVerdict(progress, req.Result, now)
			if err := s.progressRepo.Create(ctx, tx, progress); err != nil {
				return err
			}
		} else {
			progress.Test = req.Result
			progress.UpdatedAt = now
			applyVerdict(progress, req.Result, now)
			if err := s.progressRepo.Save(ctx, tx, progress); err != nil {
				return err
			}
		}

		completed, err := s.progressRepo.CountCompleted(ctx, tx, enrollment.ID)
		if err != nil {
			return err
		}
		next, err := s.stageRepo.FirstIncomplete(ctx, tx, enrollment.CourseID, enrollment.ID)
		if err != nil {
			return err
		}

		enrollment.CompletedStageCount = int(completed)
		if next != nil {
			nextID := next.ID
			nextSlug := next.Slug
			enrollment.CurrentStageID = &nextID
			enrollment.CurrentStageSlug = &nextSlug
		} else {
			enrollment.CurrentStageID = nil
			enrollment.CurrentStageSlug = nil
		}
		enrollment.Activated = true
		enrollment.UpdatedAt = now
		if err := s.enrollmentRepo.Save(ctx, tx, enrollment); err != nil {
			return err
		}

		outcome = &ApplyOutcome{Enrollment: enrollment, Progress: progress}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Stage attempt recorded",
		"enrollment_id", outcome.Enrollment.ID,
		"stage_slug", outcome.Progress.StageSlug,
		"test", outcome.Progress.Test,
		"status", outcome.Progress.Status,
		"completed_stage_count", outcome.Enrollment.CompletedStageCount)
	return outcome, nil
}

// applyVerdict folds one result into the row. Status only ever moves
// forward and CompletedAt is written at most once.
func applyVerdict(progress *types.StageProgress, result types.TestResult, now time.Time) {
	if result == types.TestResultPassed && progress.Status != types.StageStatusCompleted {
		progress.Status = types.StageStatusCompleted
		if progress.CompletedAt == nil {
			completedAt := now
			progress.CompletedAt = &completedAt
		}
	}
}

func (s *progressService) ListStageProgress(ctx context.Context, enrollmentID uuid.UUID) ([]*types.StageProgress, error) {
	return s.progressRepo.ListByEnrollment(ctx, nil, enrollmentID)
}

func (s *progressService) GetStageProgress(ctx context.Context, enrollmentID uuid.UUID, stageSlug string) (*types.StageProgress, error) {
	return s.progressRepo.GetByEnrollmentAndStageSlug(ctx, nil, enrollmentID, stageSlug)
}
