package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

type StageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Stage) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Stage, error)
	GetByCourseAndSlug(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, slug string) (*types.Stage, error)
	ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error)
	ListBaseByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error)
	ListExtendedByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error)
	ListUpToWeight(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, weight int) ([]*types.Stage, error)
	FirstIncomplete(ctx context.Context, tx *gorm.DB, courseID, enrollmentID uuid.UUID) (*types.Stage, error)
	Upsert(ctx context.Context, tx *gorm.DB, row *types.Stage) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type stageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageRepo(db *gorm.DB, baseLog *logger.Logger) StageRepo {
	repoLog := baseLog.With("repo", "StageRepo")
	return &stageRepo{db: db, log: repoLog}
}

func (r *stageRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Stage) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *stageRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Stage
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *stageRepo) GetByCourseAndSlug(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, slug string) (*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Stage
	if err := transaction.WithContext(ctx).
		Where("course_id = ? AND slug = ?", courseID, slug).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *stageRepo) ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Stage
	if err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *stageRepo) ListBaseByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Stage
	if err := transaction.WithContext(ctx).
		Where("course_id = ? AND extension_id IS NULL", courseID).
		Order("weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *stageRepo) ListExtendedByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Stage
	if err := transaction.WithContext(ctx).
		Where("course_id = ? AND extension_id IS NOT NULL", courseID).
		Order("weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUpToWeight returns every stage ordered first through the one carrying
// the given weight, inclusive. The verifier runs the test cases of all of
// them so regressions in earlier stages fail the push.
func (r *stageRepo) ListUpToWeight(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, weight int) ([]*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Stage
	if err := transaction.WithContext(ctx).
		Where("course_id = ? AND weight <= ?", courseID, weight).
		Order("weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FirstIncomplete returns the lowest-weight stage the enrollment has not
// completed, or nil when every stage is done.
func (r *stageRepo) FirstIncomplete(ctx context.Context, tx *gorm.DB, courseID, enrollmentID uuid.UUID) (*types.Stage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Stage
	err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Where(`NOT EXISTS (
			SELECT 1 FROM user_stage
			WHERE user_stage.stage_id = stage.id
			  AND user_stage.user_course_id = ?
			  AND user_stage.status = ?
		)`, enrollmentID, types.StageStatusCompleted).
		Order("weight ASC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *stageRepo) Upsert(ctx context.Context, tx *gorm.DB, row *types.Stage) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}

	// Upsert by unique course_id + slug
	if err := transaction.WithContext(ctx).
		Where("course_id = ? AND slug = ?", row.CourseID, row.Slug).
		Assign(map[string]any{
			"extension_id":   row.ExtensionID,
			"extension_slug": row.ExtensionSlug,
			"name":           row.Name,
			"difficulty":     row.Difficulty,
			"description":    row.Description,
			"instruction":    row.Instruction,
			"solution":       row.Solution,
			"weight":         row.Weight,
		}).
		FirstOrCreate(row).Error; err != nil {
		return err
	}
	return nil
}

func (r *stageRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.Stage{}).Error
}
