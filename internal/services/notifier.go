package services

import (
	"context"
	"encoding/json"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/realtime"
	"github.com/stackclass/backend/internal/realtime/bus"
	"github.com/stackclass/backend/internal/types"
)

// StagePayload is the frame body for a stage-level status stream.
type StagePayload struct {
	Status types.StageStatus `json:"status"`
	Test   types.TestResult  `json:"test,omitempty"`
}

// CoursePayload is the frame body for a course-level status stream.
type CoursePayload struct {
	Activated           bool    `json:"activated"`
	CompletedStageCount int     `json:"completed_stage_count"`
	CurrentStageSlug    *string `json:"current_stage_slug"`
}

// StagePayloadFrom builds the stage frame. A nil row means the learner
// never pushed to the stage, which streams as a fresh in-progress state.
func StagePayloadFrom(progress *types.StageProgress) StagePayload {
	if progress == nil {
		return StagePayload{Status: types.StageStatusInProgress}
	}
	return StagePayload{Status: progress.Status, Test: progress.Test}
}

func CoursePayloadFrom(enrollment *types.Enrollment) CoursePayload {
	return CoursePayload{
		Activated:           enrollment.Activated,
		CompletedStageCount: enrollment.CompletedStageCount,
		CurrentStageSlug:    enrollment.CurrentStageSlug,
	}
}

// ProgressNotifier publishes stage and course snapshots after a persist.
// Publishing is fire-and-forget: a subscriber that gets no frame catches
// up from the snapshot on its next connect.
type ProgressNotifier interface {
	ProgressApplied(enrollment *types.Enrollment, progress *types.StageProgress)
}

type progressNotifier struct {
	log *logger.Logger
	hub *realtime.Hub
	bus bus.Bus
}

// NewProgressNotifier wires snapshot publishing. bus may be nil for
// single-instance deployments; with a bus configured, messages go only
// through it and the forwarder (running on every instance, this one
// included) delivers them into the local hub, so each subscriber sees
// exactly one frame per commit.
func NewProgressNotifier(baseLog *logger.Logger, hub *realtime.Hub, b bus.Bus) ProgressNotifier {
	return &progressNotifier{
		log: baseLog.With("service", "ProgressNotifier"),
		hub: hub,
		bus: b,
	}
}

func (n *progressNotifier) ProgressApplied(enrollment *types.Enrollment, progress *types.StageProgress) {
	if n == nil || n.hub == nil || enrollment == nil || progress == nil {
		return
	}

	stageData, err := json.Marshal(StagePayloadFrom(progress))
	if err != nil {
		n.log.Error("marshal stage payload failed", "error", err)
		return
	}
	courseData, err := json.Marshal(CoursePayloadFrom(enrollment))
	if err != nil {
		n.log.Error("marshal course payload failed", "error", err)
		return
	}

	n.publish(realtime.Message{
		Scope: realtime.StageScope(enrollment.ID, progress.StageSlug),
		Data:  stageData,
	})
	n.publish(realtime.Message{
		Scope: realtime.CourseScope(enrollment.ID),
		Data:  courseData,
	})
}

func (n *progressNotifier) publish(msg realtime.Message) {
	if n.bus == nil {
		n.hub.Publish(msg)
		return
	}
	if err := n.bus.Publish(context.Background(), msg); err != nil {
		// Local subscribers still get their frame; other instances miss
		// this one and catch up on reconnect.
		n.log.Warn("bus publish failed, delivering locally only", "scope", msg.Scope, "error", err)
		n.hub.Publish(msg)
	}
}
