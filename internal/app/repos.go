package app

import (
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
)

type Repos struct {
	Course        repos.CourseRepo
	Stage         repos.StageRepo
	Extension     repos.ExtensionRepo
	Enrollment    repos.EnrollmentRepo
	StageProgress repos.StageProgressRepo
	DeadLetter    repos.DeadLetterRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Course:        repos.NewCourseRepo(db, log),
		Stage:         repos.NewStageRepo(db, log),
		Extension:     repos.NewExtensionRepo(db, log),
		Enrollment:    repos.NewEnrollmentRepo(db, log),
		StageProgress: repos.NewStageProgressRepo(db, log),
		DeadLetter:    repos.NewDeadLetterRepo(db, log),
	}
}
