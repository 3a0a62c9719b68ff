package types

import (
	"time"

	"github.com/google/uuid"
)

type ReleaseStatus string

const (
	ReleaseStatusAlpha ReleaseStatus = "alpha"
	ReleaseStatusBeta  ReleaseStatus = "beta"
	ReleaseStatusLive  ReleaseStatus = "live"
)

type Course struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Slug          string        `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name          string        `gorm:"column:name;not null" json:"name"`
	ShortName     string        `gorm:"column:short_name" json:"short_name"`
	ReleaseStatus ReleaseStatus `gorm:"column:release_status;not null;default:alpha" json:"release_status"`
	Description   string        `gorm:"column:description" json:"description"`
	Summary       string        `gorm:"column:summary" json:"summary"`
	Logo          string        `gorm:"column:logo" json:"logo,omitempty"`
	Repository    string        `gorm:"column:repository;not null" json:"repository"`
	StageCount    int           `gorm:"column:stage_count;not null;default:0" json:"stage_count"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (Course) TableName() string { return "course" }
