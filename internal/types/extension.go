package types

import (
	"time"

	"github.com/google/uuid"
)

type Extension struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_extension_course_slug" json:"course_id"`
	Course      *Course   `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	Slug        string    `gorm:"column:slug;not null;uniqueIndex:idx_extension_course_slug" json:"slug"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	StageCount  int       `gorm:"column:stage_count;not null;default:0" json:"stage_count"`
	Weight      int       `gorm:"column:weight;not null;default:0" json:"weight"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Extension) TableName() string { return "extension" }
