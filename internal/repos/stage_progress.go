package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

type StageProgressRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.StageProgress) error
	GetByEnrollmentAndStage(ctx context.Context, tx *gorm.DB, enrollmentID, stageID uuid.UUID) (*types.StageProgress, error)
	GetByEnrollmentAndStageSlug(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID, stageSlug string) (*types.StageProgress, error)
	ListByEnrollment(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) ([]*types.StageProgress, error)
	CountCompleted(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) (int64, error)
	Save(ctx context.Context, tx *gorm.DB, row *types.StageProgress) error
}

type stageProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageProgressRepo(db *gorm.DB, baseLog *logger.Logger) StageProgressRepo {
	repoLog := baseLog.With("repo", "StageProgressRepo")
	return &stageProgressRepo{db: db, log: repoLog}
}

func (r *stageProgressRepo) Create(ctx context.Context, tx *gorm.DB, row *types.StageProgress) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *stageProgressRepo) GetByEnrollmentAndStage(ctx context.Context, tx *gorm.DB, enrollmentID, stageID uuid.UUID) (*types.StageProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.StageProgress
	err := transaction.WithContext(ctx).
		Where("user_course_id = ? AND stage_id = ?", enrollmentID, stageID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *stageProgressRepo) GetByEnrollmentAndStageSlug(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID, stageSlug string) (*types.StageProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.StageProgress
	err := transaction.WithContext(ctx).
		Where("user_course_id = ? AND stage_slug = ?", enrollmentID, stageSlug).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *stageProgressRepo) ListByEnrollment(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) ([]*types.StageProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.StageProgress
	if err := transaction.WithContext(ctx).
		Joins("JOIN stage ON stage.id = user_stage.stage_id").
		Where("user_stage.user_course_id = ?", enrollmentID).
		Order("stage.weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *stageProgressRepo) CountCompleted(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.StageProgress{}).
		Where("user_course_id = ? AND status = ?", enrollmentID, types.StageStatusCompleted).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *stageProgressRepo) Save(ctx context.Context, tx *gorm.DB, row *types.StageProgress) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).Save(row).Error
}
