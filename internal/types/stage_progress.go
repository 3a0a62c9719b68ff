package types

import (
	"time"

	"github.com/google/uuid"
)

type StageStatus string

const (
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
)

type TestResult string

const (
	TestResultPassed TestResult = "passed"
	TestResultFailed TestResult = "failed"
)

// StageProgress records a learner's state on one stage. Status never moves
// backwards and CompletedAt is written at most once; Test always holds the
// latest verification result.
type StageProgress struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	EnrollmentID uuid.UUID   `gorm:"column:user_course_id;type:uuid;not null;index;uniqueIndex:idx_user_stage" json:"user_course_id"`
	Enrollment   *Enrollment `gorm:"constraint:OnDelete:CASCADE;foreignKey:EnrollmentID;references:ID" json:"enrollment,omitempty"`
	StageID      uuid.UUID   `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_stage" json:"stage_id"`
	Stage        *Stage      `gorm:"constraint:OnDelete:CASCADE;foreignKey:StageID;references:ID" json:"stage,omitempty"`
	StageSlug    string      `gorm:"column:stage_slug;not null" json:"stage_slug"`
	Status       StageStatus `gorm:"column:status;not null;default:in_progress" json:"status"`
	Test         TestResult  `gorm:"column:test;not null" json:"test"`
	StartedAt    time.Time   `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt  *time.Time  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
}

func (StageProgress) TableName() string { return "user_stage" }
