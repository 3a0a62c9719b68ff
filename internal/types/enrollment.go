package types

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment ties a learner to a course and to the personal repository
// provisioned for them. CurrentStage* and CompletedStageCount are derived
// from StageProgress rows and only ever rewritten inside the same
// transaction that changes those rows.
type Enrollment struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              string     `gorm:"column:user_id;not null;index;uniqueIndex:idx_user_course" json:"user_id"`
	CourseID            uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_course" json:"course_id"`
	Course              *Course    `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	CourseSlug          string     `gorm:"column:course_slug;not null;index" json:"course_slug"`
	Proficiency         string     `gorm:"column:proficiency" json:"proficiency,omitempty"`
	Cadence             string     `gorm:"column:cadence" json:"cadence,omitempty"`
	Accountability      bool       `gorm:"column:accountability;not null;default:false" json:"accountability"`
	CurrentStageID      *uuid.UUID `gorm:"type:uuid" json:"current_stage_id,omitempty"`
	CurrentStageSlug    *string    `gorm:"column:current_stage_slug" json:"current_stage_slug,omitempty"`
	CompletedStageCount int        `gorm:"column:completed_stage_count;not null;default:0" json:"completed_stage_count"`
	Activated           bool       `gorm:"column:activated;not null;default:false" json:"activated"`
	RepoPath            string     `gorm:"column:repo_path;not null" json:"-"`
	GitTokenHash        string     `gorm:"column:git_token_hash;not null" json:"-"`
	StartedAt           time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	CreatedAt           time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"not null" json:"updated_at"`
}

func (Enrollment) TableName() string { return "user_course" }
