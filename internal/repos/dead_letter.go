package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

type DeadLetterRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.PushDeadLetter) error
	ListByEnrollment(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) ([]*types.PushDeadLetter, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	repoLog := baseLog.With("repo", "DeadLetterRepo")
	return &deadLetterRepo{db: db, log: repoLog}
}

func (r *deadLetterRepo) Create(ctx context.Context, tx *gorm.DB, row *types.PushDeadLetter) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *deadLetterRepo) ListByEnrollment(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) ([]*types.PushDeadLetter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.PushDeadLetter
	if err := transaction.WithContext(ctx).
		Where("user_course_id = ?", enrollmentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
