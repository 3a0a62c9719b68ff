package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// PushEvent is one confirmed reference update on a learner repository.
// Delivery into the pipeline is at-least-once; processing is idempotent
// per (Ref, Before, After), so replays are harmless.
type PushEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	RepoPath     string    `json:"repository_path"`
	Ref          string    `json:"ref"`
	Before       string    `json:"before_sha"`
	After        string    `json:"after_sha"`
	Pusher       string    `json:"pusher_identity"`
	ReceivedAt   time.Time `json:"received_at"`
}
