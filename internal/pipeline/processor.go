package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/services"
	"github.com/stackclass/backend/internal/types"
)

// ProcessorConfig bounds the two slow legs of event handling. The
// verifier gets one deadline for the whole run; persistence gets a
// deadline per attempt plus a retry budget for transient database
// failures.
type ProcessorConfig struct {
	VerifyTimeout   time.Duration
	PersistTimeout  time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 5 * time.Minute
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 5
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	return c
}

type processor struct {
	log         *logger.Logger
	resolver    StageResolver
	verifier    Verifier
	progress    services.ProgressService
	notifier    services.ProgressNotifier
	enrollments repos.EnrollmentRepo
	courses     repos.CourseRepo
	stages      repos.StageRepo
	deadLetters repos.DeadLetterRepo
	cfg         ProcessorConfig
}

func NewProcessor(
	baseLog *logger.Logger,
	resolver StageResolver,
	verifier Verifier,
	progress services.ProgressService,
	notifier services.ProgressNotifier,
	enrollments repos.EnrollmentRepo,
	courses repos.CourseRepo,
	stages repos.StageRepo,
	deadLetters repos.DeadLetterRepo,
	cfg ProcessorConfig,
) Processor {
	return &processor{
		log:         baseLog.With("component", "PushProcessor"),
		resolver:    resolver,
		verifier:    verifier,
		progress:    progress,
		notifier:    notifier,
		enrollments: enrollments,
		courses:     courses,
		stages:      stages,
		deadLetters: deadLetters,
		cfg:         cfg.withDefaults(),
	}
}

// Process runs one event to a terminal state: a persisted result, a
// logged drop, or a dead letter. It never returns an error because
// there is no caller that could do anything with one.
func (p *processor) Process(ctx context.Context, ev PushEvent) {
	log := p.log.With("enrollment_id", ev.EnrollmentID, "ref", ev.Ref, "after", ev.After)

	enrollment, err := p.enrollments.GetByID(ctx, nil, ev.EnrollmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("push event for unknown enrollment dropped")
		return
	}
	if err != nil {
		log.Error("enrollment load failed, push event dropped", "error", err)
		return
	}
	course, err := p.courses.GetByID(ctx, nil, enrollment.CourseID)
	if err != nil {
		log.Error("course load failed, push event dropped", "error", err)
		return
	}

	stage, err := p.resolver.Resolve(ctx, ResolveRequest{
		Event:      ev,
		Enrollment: enrollment,
		Course:     course,
	})
	if err != nil {
		var resErr *ResolutionError
		if errors.As(err, &resErr) {
			log.Warn("push event not mapped to a stage, dropped", "reason", resErr.Reason)
		} else {
			log.Error("stage resolution failed, push event dropped", "error", err)
		}
		return
	}
	log = log.With("stage_slug", stage.Slug)

	result := p.verify(ctx, enrollment, course, stage, ev, log)

	outcome, attempts, err := p.persistWithRetry(ctx, enrollment, stage, result, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("shutdown during persist, push event dropped", "error", err)
			return
		}
		p.deadLetter(ctx, ev, attempts, err, log)
		return
	}

	p.notifier.ProgressApplied(outcome.Enrollment, outcome.Progress)
}

// verify produces a verdict no matter what the verifier does: errors,
// timeouts and panics all record the attempt as failed.
func (p *processor) verify(ctx context.Context, enrollment *types.Enrollment, course *types.Course, stage *types.Stage, ev PushEvent, log *logger.Logger) types.TestResult {
	upTo, err := p.stages.ListUpToWeight(ctx, nil, course.ID, stage.Weight)
	if err != nil {
		log.Error("stage listing failed, attempt recorded as failed", "error", err)
		return types.TestResultFailed
	}

	vctx, cancel := context.WithTimeout(ctx, p.cfg.VerifyTimeout)
	defer cancel()

	result, err := func() (result types.TestResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = types.TestResultFailed
				err = &VerifierError{StageSlug: stage.Slug, Err: fmt.Errorf("verifier panic: %v", r)}
			}
		}()
		return p.verifier.Verify(vctx, VerifyRequest{
			RepoDir:    enrollment.RepoPath,
			CourseSlug: course.Slug,
			StageSlug:  stage.Slug,
			CommitSHA:  ev.After,
			TestCases:  BuildTestCases(upTo),
		})
	}()
	if err != nil {
		log.Warn("verifier did not produce a verdict, attempt recorded as failed", "error", err)
		return types.TestResultFailed
	}
	return result
}

func (p *processor) persistWithRetry(ctx context.Context, enrollment *types.Enrollment, stage *types.Stage, result types.TestResult, log *logger.Logger) (*services.ApplyOutcome, int, error) {
	backoff := p.cfg.PersistBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.PersistAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.cfg.PersistTimeout)
		outcome, err := p.progress.Apply(actx, services.ApplyRequest{
			Enrollment: enrollment,
			Stage:      stage,
			Result:     result,
		})
		cancel()
		if err == nil {
			return outcome, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, err
		}
		if !isTransient(err) {
			return nil, attempt, err
		}
		if attempt < p.cfg.PersistAttempts {
			log.Warn("progress persist failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, p.cfg.PersistAttempts, lastErr
}

// deadLetter parks the event for manual replay. Failing to park it is
// logged and swallowed: one broken event must never take the drainer
// down with it.
func (p *processor) deadLetter(ctx context.Context, ev PushEvent, attempts int, cause error, log *logger.Logger) {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = []byte("{}")
	}

	row := &types.PushDeadLetter{
		ID:           uuid.New(),
		EnrollmentID: ev.EnrollmentID,
		Ref:          ev.Ref,
		BeforeSHA:    ev.Before,
		AfterSHA:     ev.After,
		Payload:      datatypes.JSON(payload),
		Reason:       cause.Error(),
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.deadLetters.Create(ctx, nil, row); err != nil {
		log.Error("dead-letter write failed, push event lost", "error", err, "cause", cause)
		return
	}
	log.Error("push event dead-lettered", "attempts", attempts, "cause", cause)
}
