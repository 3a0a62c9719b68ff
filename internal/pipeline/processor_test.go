package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/types"
)

func TestProcessorPassingPush(t *testing.T) {
	database := newTestDB(t)
	course, stages := seedCourse(t, database, "redis", "bind-port", "ping")

	repoPath := filepath.Join(t.TempDir(), "learner.git")
	repo := gitx.CreateBareRepository(t, repoPath, map[string]string{"main.go": "package main\n"})
	head := gitx.AddCommit(t, repo, map[string]string{"main.go": "package main // v2\n"}, "solve bind-port")
	enrollment := seedEnrollment(t, database, course, "user-1", repoPath)

	notifier := &capturingNotifier{}
	proc := newTestProcessor(t, database, NewStaticVerifier(types.TestResultPassed), nil, notifier, ProcessorConfig{})

	proc.Process(context.Background(), PushEvent{
		EnrollmentID: enrollment.ID,
		RepoPath:     repoPath,
		Ref:          "refs/heads/main",
		Before:       "0000000000000000000000000000000000000000",
		After:        head.String(),
		ReceivedAt:   time.Now().UTC(),
	})

	log := mustTestLogger(t)
	progressRepo := repos.NewStageProgressRepo(database, log)
	row, err := progressRepo.GetByEnrollmentAndStage(context.Background(), nil, enrollment.ID, stages[0].ID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if row == nil {
		t.Fatal("no progress row written")
	}
	if row.Status != types.StageStatusCompleted || row.Test != types.TestResultPassed {
		t.Fatalf("row = %s/%s, want completed/passed", row.Status, row.Test)
	}
	if row.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	fresh, err := repos.NewEnrollmentRepo(database, log).GetByID(context.Background(), nil, enrollment.ID)
	if err != nil {
		t.Fatalf("load enrollment: %v", err)
	}
	if !fresh.Activated {
		t.Fatal("enrollment not activated by first push")
	}
	if fresh.CompletedStageCount != 1 {
		t.Fatalf("CompletedStageCount = %d, want 1", fresh.CompletedStageCount)
	}
	if fresh.CurrentStageSlug == nil || *fresh.CurrentStageSlug != "ping" {
		t.Fatalf("CurrentStageSlug = %v, want ping", fresh.CurrentStageSlug)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
	if notifier.calls[0].progress.StageSlug != "bind-port" {
		t.Fatalf("notified stage %q, want bind-port", notifier.calls[0].progress.StageSlug)
	}
}

func TestProcessorUnknownEnrollmentDropped(t *testing.T) {
	database := newTestDB(t)
	seedCourse(t, database, "redis", "bind-port")

	notifier := &capturingNotifier{}
	proc := newTestProcessor(t, database, NewStaticVerifier(types.TestResultPassed), nil, notifier, ProcessorConfig{})

	proc.Process(context.Background(), PushEvent{
		EnrollmentID: uuid.New(),
		Ref:          "refs/heads/main",
		After:        "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})

	var count int64
	if err := database.Model(&types.StageProgress{}).Count(&count).Error; err != nil {
		t.Fatalf("count progress: %v", err)
	}
	if count != 0 {
		t.Fatalf("progress rows written for unknown enrollment: %d", count)
	}
	if len(notifier.calls) != 0 {
		t.Fatal("notifier called for dropped event")
	}
}

func TestProcessorResolutionFailureDropped(t *testing.T) {
	database := newTestDB(t)
	course, _ := seedCourse(t, database, "redis", "bind-port")

	repoPath := filepath.Join(t.TempDir(), "learner.git")
	gitx.CreateBareRepository(t, repoPath, map[string]string{"main.go": "package main\n"})
	enrollment := seedEnrollment(t, database, course, "user-1", repoPath)

	notifier := &capturingNotifier{}
	proc := newTestProcessor(t, database, NewStaticVerifier(types.TestResultPassed), nil, notifier, ProcessorConfig{})

	proc.Process(context.Background(), PushEvent{
		EnrollmentID: enrollment.ID,
		Ref:          "refs/heads/stage/no-such-stage",
		After:        "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})

	var progressCount, deadCount int64
	if err := database.Model(&types.StageProgress{}).Count(&progressCount).Error; err != nil {
		t.Fatalf("count progress: %v", err)
	}
	if err := database.Model(&types.PushDeadLetter{}).Count(&deadCount).Error; err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if progressCount != 0 || deadCount != 0 {
		t.Fatalf("resolution failure left rows behind: progress=%d dead=%d", progressCount, deadCount)
	}
}

func TestProcessorVerifierTimeoutRecordsFailure(t *testing.T) {
	database := newTestDB(t)
	course, stages := seedCourse(t, database, "redis", "bind-port")

	repoPath := filepath.Join(t.TempDir(), "learner.git")
	repo := gitx.CreateBareRepository(t, repoPath, map[string]string{"main.go": "package main\n"})
	head := gitx.AddCommit(t, repo, map[string]string{"main.go": "package main // slow\n"}, "attempt")
	enrollment := seedEnrollment(t, database, course, "user-1", repoPath)

	notifier := &capturingNotifier{}
	proc := newTestProcessor(t, database, &blockingVerifier{}, nil, notifier,
		ProcessorConfig{VerifyTimeout: 50 * time.Millisecond})

	proc.Process(context.Background(), PushEvent{
		EnrollmentID: enrollment.ID,
		Ref:          "refs/heads/main",
		After:        head.String(),
	})

	row, err := repos.NewStageProgressRepo(database, mustTestLogger(t)).
		GetByEnrollmentAndStage(context.Background(), nil, enrollment.ID, stages[0].ID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if row == nil {
		t.Fatal("timeout attempt not recorded")
	}
	if row.Status != types.StageStatusInProgress || row.Test != types.TestResultFailed {
		t.Fatalf("row = %s/%s, want in_progress/failed", row.Status, row.Test)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
}

func TestProcessorDeadLettersAfterRetries(t *testing.T) {
	database := newTestDB(t)
	course, _ := seedCourse(t, database, "redis", "bind-port")

	repoPath := filepath.Join(t.TempDir(), "learner.git")
	repo := gitx.CreateBareRepository(t, repoPath, map[string]string{"main.go": "package main\n"})
	head := gitx.AddCommit(t, repo, map[string]string{"main.go": "package main // v2\n"}, "attempt")
	enrollment := seedEnrollment(t, database, course, "user-1", repoPath)

	progress := &failingProgress{err: &pgconn.PgError{Code: "40001", Message: "serialization failure"}}
	notifier := &capturingNotifier{}
	proc := newTestProcessor(t, database, NewStaticVerifier(types.TestResultPassed), progress, notifier,
		ProcessorConfig{PersistAttempts: 3, PersistBackoff: time.Millisecond})

	ev := PushEvent{
		EnrollmentID: enrollment.ID,
		Ref:          "refs/heads/main",
		Before:       "0000000000000000000000000000000000000000",
		After:        head.String(),
		ReceivedAt:   time.Now().UTC(),
	}
	proc.Process(context.Background(), ev)

	if progress.calls != 3 {
		t.Fatalf("Apply attempted %d times, want 3", progress.calls)
	}

	letters, err := repos.NewDeadLetterRepo(database, mustTestLogger(t)).
		ListByEnrollment(context.Background(), nil, enrollment.ID)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(letters))
	}
	letter := letters[0]
	if letter.Ref != ev.Ref || letter.AfterSHA != ev.After || letter.Attempts != 3 {
		t.Fatalf("dead letter mismatch: %+v", letter)
	}

	var replay PushEvent
	if err := json.Unmarshal(letter.Payload, &replay); err != nil {
		t.Fatalf("payload not a replayable event: %v", err)
	}
	if replay.EnrollmentID != ev.EnrollmentID || replay.After != ev.After {
		t.Fatalf("payload = %+v, want original event", replay)
	}

	if len(notifier.calls) != 0 {
		t.Fatal("notifier called despite persist failure")
	}
}

func TestProcessorNonTransientErrorDeadLettersImmediately(t *testing.T) {
	database := newTestDB(t)
	course, _ := seedCourse(t, database, "redis", "bind-port")

	repoPath := filepath.Join(t.TempDir(), "learner.git")
	repo := gitx.CreateBareRepository(t, repoPath, map[string]string{"main.go": "package main\n"})
	head := gitx.AddCommit(t, repo, map[string]string{"main.go": "package main // v2\n"}, "attempt")
	enrollment := seedEnrollment(t, database, course, "user-1", repoPath)

	progress := &failingProgress{err: &pgconn.PgError{Code: "23514", Message: "check violation"}}
	proc := newTestProcessor(t, database, NewStaticVerifier(types.TestResultPassed), progress, &capturingNotifier{},
		ProcessorConfig{PersistAttempts: 5, PersistBackoff: time.Millisecond})

	proc.Process(context.Background(), PushEvent{
		EnrollmentID: enrollment.ID,
		Ref:          "refs/heads/main",
		After:        head.String(),
	})

	if progress.calls != 1 {
		t.Fatalf("non-transient error retried: %d attempts", progress.calls)
	}
	letters, err := repos.NewDeadLetterRepo(database, mustTestLogger(t)).
		ListByEnrollment(context.Background(), nil, enrollment.ID)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(letters))
	}
}
