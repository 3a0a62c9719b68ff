package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

type EnrollmentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Enrollment) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Enrollment, error)
	GetByUserAndCourseID(ctx context.Context, tx *gorm.DB, userID string, courseID uuid.UUID) (*types.Enrollment, error)
	GetByUserAndCourseSlug(ctx context.Context, tx *gorm.DB, userID, courseSlug string) (*types.Enrollment, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Enrollment, error)
	ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Enrollment, error)
	Save(ctx context.Context, tx *gorm.DB, row *types.Enrollment) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type enrollmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	repoLog := baseLog.With("repo", "EnrollmentRepo")
	return &enrollmentRepo{db: db, log: repoLog}
}

func (r *enrollmentRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Enrollment) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *enrollmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Enrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Enrollment
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *enrollmentRepo) GetByUserAndCourseID(ctx context.Context, tx *gorm.DB, userID string, courseID uuid.UUID) (*types.Enrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Enrollment
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *enrollmentRepo) GetByUserAndCourseSlug(ctx context.Context, tx *gorm.DB, userID, courseSlug string) (*types.Enrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Enrollment
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_slug = ?", userID, courseSlug).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *enrollmentRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Enrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Enrollment
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *enrollmentRepo) ListByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Enrollment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Enrollment
	if err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *enrollmentRepo) Save(ctx context.Context, tx *gorm.DB, row *types.Enrollment) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).Save(row).Error
}

func (r *enrollmentRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Enrollment{}).Error
}
