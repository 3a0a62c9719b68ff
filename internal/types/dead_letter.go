package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PushDeadLetter holds a push event whose persistence kept failing after
// retries, with enough context to replay it by hand.
type PushDeadLetter struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EnrollmentID uuid.UUID      `gorm:"column:user_course_id;type:uuid;not null;index" json:"user_course_id"`
	Ref          string         `gorm:"column:ref;not null" json:"ref"`
	BeforeSHA    string         `gorm:"column:before_sha;not null" json:"before_sha"`
	AfterSHA     string         `gorm:"column:after_sha;not null" json:"after_sha"`
	Payload      datatypes.JSON `gorm:"column:payload" json:"payload"`
	Reason       string         `gorm:"column:reason;not null" json:"reason"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}

func (PushDeadLetter) TableName() string { return "push_dead_letter" }
