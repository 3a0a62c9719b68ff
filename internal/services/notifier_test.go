package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stackclass/backend/internal/realtime"
	"github.com/stackclass/backend/internal/types"
)

func TestProgressAppliedPublishesBothScopes(t *testing.T) {
	log := mustTestLogger(t)
	hub := realtime.NewHub(log)
	notifier := NewProgressNotifier(log, hub, nil)

	enrollmentID := uuid.New()
	slug := "bind-port"
	courseSub := hub.Subscribe(realtime.CourseScope(enrollmentID))
	defer hub.Unsubscribe(courseSub)
	stageSub := hub.Subscribe(realtime.StageScope(enrollmentID, "bind-port"))
	defer hub.Unsubscribe(stageSub)

	completedAt := time.Now().UTC()
	notifier.ProgressApplied(
		&types.Enrollment{
			ID:                  enrollmentID,
			Activated:           true,
			CompletedStageCount: 1,
			CurrentStageSlug:    &slug,
		},
		&types.StageProgress{
			EnrollmentID: enrollmentID,
			StageSlug:    "bind-port",
			Status:       types.StageStatusCompleted,
			Test:         types.TestResultPassed,
			CompletedAt:  &completedAt,
		},
	)

	select {
	case msg := <-stageSub.Outbound:
		var payload StagePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("stage frame not JSON: %v", err)
		}
		if payload.Status != types.StageStatusCompleted || payload.Test != types.TestResultPassed {
			t.Fatalf("stage payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no stage frame published")
	}

	select {
	case msg := <-courseSub.Outbound:
		var payload CoursePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("course frame not JSON: %v", err)
		}
		if !payload.Activated || payload.CompletedStageCount != 1 {
			t.Fatalf("course payload = %+v", payload)
		}
		if payload.CurrentStageSlug == nil || *payload.CurrentStageSlug != "bind-port" {
			t.Fatalf("CurrentStageSlug = %v", payload.CurrentStageSlug)
		}
	case <-time.After(time.Second):
		t.Fatal("no course frame published")
	}
}

func TestStagePayloadDefaultsForUntouchedStage(t *testing.T) {
	payload := StagePayloadFrom(nil)
	if payload.Status != types.StageStatusInProgress || payload.Test != "" {
		t.Fatalf("payload = %+v, want fresh in_progress", payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"status":"in_progress"}` {
		t.Fatalf("frame = %s", raw)
	}
}
