package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

type ExtensionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Extension) error
	ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Extension, error)
	Upsert(ctx context.Context, tx *gorm.DB, row *types.Extension) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type extensionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtensionRepo(db *gorm.DB, baseLog *logger.Logger) ExtensionRepo {
	repoLog := baseLog.With("repo", "ExtensionRepo")
	return &extensionRepo{db: db, log: repoLog}
}

func (r *extensionRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Extension) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *extensionRepo) ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Extension, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Extension
	if err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("weight ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *extensionRepo) Upsert(ctx context.Context, tx *gorm.DB, row *types.Extension) error {
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
			"name":        row.Name,
			"description": row.Description,
			"stage_count": row.StageCount,
			"weight":      row.Weight,
		}).
		FirstOrCreate(row).Error; err != nil {
		return err
	}
	return nil
}

func (r *extensionRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.Extension{}).Error
}
