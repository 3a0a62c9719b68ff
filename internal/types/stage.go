package types

import (
	"time"

	"github.com/google/uuid"
)

type Difficulty string

const (
	DifficultyVeryEasy Difficulty = "very_easy"
	DifficultyEasy     Difficulty = "easy"
	DifficultyMedium   Difficulty = "medium"
	DifficultyHard     Difficulty = "hard"
)

// Stage weight defines the course-wide ordering: base stages carry their
// position in the course definition, extension stages carry
// (extensionIndex+1)*1000 + position so they always sort after the base set.
type Stage struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID      uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_stage_course_slug" json:"course_id"`
	Course        *Course    `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	ExtensionID   *uuid.UUID `gorm:"type:uuid;index" json:"extension_id,omitempty"`
	Extension     *Extension `gorm:"constraint:OnDelete:CASCADE;foreignKey:ExtensionID;references:ID" json:"extension,omitempty"`
	ExtensionSlug *string    `gorm:"column:extension_slug" json:"extension_slug,omitempty"`
	Slug          string     `gorm:"column:slug;not null;uniqueIndex:idx_stage_course_slug" json:"slug"`
	Name          string     `gorm:"column:name;not null" json:"name"`
	Difficulty    Difficulty `gorm:"column:difficulty;not null;default:medium" json:"difficulty"`
	Description   string     `gorm:"column:description" json:"description"`
	Instruction   string     `gorm:"column:instruction" json:"instruction,omitempty"`
	Solution      *string    `gorm:"column:solution" json:"solution,omitempty"`
	Weight        int        `gorm:"column:weight;not null;default:0" json:"weight"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (Stage) TableName() string { return "stage" }
