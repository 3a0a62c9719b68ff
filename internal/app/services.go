package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/gitserver"
	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/mirror"
	"github.com/stackclass/backend/internal/pipeline"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/realtime"
	"github.com/stackclass/backend/internal/realtime/bus"
	"github.com/stackclass/backend/internal/services"
	"github.com/stackclass/backend/internal/types"
)

type Services struct {
	// Course mirror layer
	Cache       mirror.Cache
	Provisioner mirror.Provisioner

	// Domain
	Course     services.CourseService
	Enrollment services.EnrollmentService
	Progress   services.ProgressService

	// Realtime
	Bus      bus.Bus
	Notifier services.ProgressNotifier

	// Push pipeline
	Dispatcher *pipeline.Dispatcher

	// Git hosting
	GitServer gitserver.Service
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, hub *realtime.Hub) (Services, error) {
	log.Info("Wiring services...")

	creds := gitx.Credentials{
		Username: cfg.UpstreamGitUsername,
		Password: cfg.UpstreamGitPassword,
	}
	cache, err := mirror.NewCache(cfg.CacheRoot, cfg.SyncTimeout, creds, log)
	if err != nil {
		return Services{}, fmt.Errorf("init mirror cache: %w", err)
	}
	provisioner := mirror.NewProvisioner(cache, log)

	courseService := services.NewCourseService(db, log, cache, repos.Course, repos.Stage, repos.Extension, repos.Enrollment)
	enrollmentService := services.NewEnrollmentService(db, log, provisioner, repos.Course, repos.Enrollment, cfg.RepoRoot, cfg.CloneBaseURL)
	progressService := services.NewProgressService(db, log, repos.Enrollment, repos.Stage, repos.StageProgress)

	var progressBus bus.Bus
	if cfg.RedisAddr != "" {
		progressBus, err = bus.NewRedisBus(cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			return Services{}, fmt.Errorf("init progress bus: %w", err)
		}
	}
	notifier := services.NewProgressNotifier(log, hub, progressBus)

	var verifier pipeline.Verifier
	if cfg.VerifierCommand != "" {
		verifier = pipeline.NewCommandVerifier(cfg.VerifierCommand, log)
	} else {
		log.Warn("VERIFIER_COMMAND not set, every push will verify as passed")
		verifier = pipeline.NewStaticVerifier(types.TestResultPassed)
	}

	processor := pipeline.NewProcessor(
		log,
		pipeline.NewResolver(repos.Stage, log),
		verifier,
		progressService,
		notifier,
		repos.Enrollment,
		repos.Course,
		repos.Stage,
		repos.DeadLetter,
		pipeline.ProcessorConfig{
			VerifyTimeout:   cfg.VerifyTimeout,
			PersistTimeout:  cfg.PersistTimeout,
			PersistAttempts: cfg.PersistAttempts,
			PersistBackoff:  cfg.PersistBackoff,
		},
	)
	dispatcher := pipeline.NewDispatcher(processor, log)

	gitServer := gitserver.NewService(cfg.RepoRoot, gitx.NewExecRunner(), log)

	return Services{
		Cache:       cache,
		Provisioner: provisioner,
		Course:      courseService,
		Enrollment:  enrollmentService,
		Progress:    progressService,
		Bus:         progressBus,
		Notifier:    notifier,
		Dispatcher:  dispatcher,
		GitServer:   gitServer,
	}, nil
}
