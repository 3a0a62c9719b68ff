package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/mirror"
	"github.com/stackclass/backend/internal/platform/apierr"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/schema"
	"github.com/stackclass/backend/internal/types"
)

// refreshAllLimit bounds how many course mirrors one RefreshAll pass
// syncs concurrently.
const refreshAllLimit = 4

type CourseService interface {
	// Create syncs the repository, parses the course definition and
	// persists it. When a course with the parsed slug already exists the
	// existing row is returned and created is false.
	Create(ctx context.Context, repository string) (course *types.Course, created bool, err error)

	// Update re-syncs the course's repository and reconciles the stored
	// definition with it: changed rows are updated, new stages and
	// extensions are inserted, rows that disappeared upstream are
	// deleted.
	Update(ctx context.Context, slug string) (*types.Course, error)

	Delete(ctx context.Context, slug string) error
	Get(ctx context.Context, slug string) (*types.Course, error)
	List(ctx context.Context) ([]*types.Course, error)

	ListStages(ctx context.Context, slug string) ([]*types.Stage, error)
	ListBaseStages(ctx context.Context, slug string) ([]*types.Stage, error)
	ListExtendedStages(ctx context.Context, slug string) ([]*types.Stage, error)
	GetStage(ctx context.Context, slug, stageSlug string) (*types.Stage, error)
	ListExtensions(ctx context.Context, slug string) ([]*types.Extension, error)

	// ListAttempts reports every learner's standing in the course.
	ListAttempts(ctx context.Context, slug string) ([]*types.Attempt, error)

	// RefreshAll re-syncs every known course. Used by the background
	// scheduler; per-course failures are logged and do not stop the rest.
	RefreshAll(ctx context.Context) error
}

type courseService struct {
	db             *gorm.DB
	log            *logger.Logger
	cache          mirror.Cache
	courseRepo     repos.CourseRepo
	stageRepo      repos.StageRepo
	extensionRepo  repos.ExtensionRepo
	enrollmentRepo repos.EnrollmentRepo
}

func NewCourseService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cache mirror.Cache,
	courseRepo repos.CourseRepo,
	stageRepo repos.StageRepo,
	extensionRepo repos.ExtensionRepo,
	enrollmentRepo repos.EnrollmentRepo,
) CourseService {
	return &courseService{
		db:             db,
		log:            baseLog.With("service", "CourseService"),
		cache:          cache,
		courseRepo:     courseRepo,
		stageRepo:      stageRepo,
		extensionRepo:  extensionRepo,
		enrollmentRepo: enrollmentRepo,
	}
}

func (s *courseService) Create(ctx context.Context, repository string) (*types.Course, bool, error) {
	if repository == "" {
		return nil, false, apierr.BadRequest("missing_repository", fmt.Errorf("repository URL is required"))
	}

	// The slug is only known after parsing course.yml, so the sync is
	// staged first and installed under the slug afterwards.
	gen, err := s.cache.Stage(ctx, repository)
	if err != nil {
		return nil, false, err
	}
	defer s.cache.Release(gen)

	def, err := parseDefinition(gen)
	if err != nil {
		return nil, false, apierr.UnprocessableEntity("invalid_course_definition", err)
	}

	existing, err := s.courseRepo.GetBySlug(ctx, nil, def.Slug)
	if err == nil {
		s.log.Info("Course already exists, returning existing row", "slug", def.Slug)
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if err := s.cache.Install(def.Slug, gen); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	course := &types.Course{
		ID:            uuid.New(),
		Slug:          def.Slug,
		Name:          def.Name,
		ShortName:     def.ShortName,
		ReleaseStatus: def.ReleaseStatus,
		Description:   def.Description,
		Summary:       def.Summary,
		Repository:    repository,
		StageCount:    totalStages(def),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.courseRepo.Create(ctx, tx, course); err != nil {
			return err
		}

		extensions := make([]*types.Extension, 0, len(def.Extensions))
		stages := make([]*types.Stage, 0, course.StageCount)
		for _, sd := range def.Stages {
			stages = append(stages, stageRow(course.ID, nil, sd, now))
		}
		for i, ed := range def.Extensions {
			ext := extensionRow(course.ID, i, ed, now)
			extensions = append(extensions, ext)
			for _, sd := range ed.Stages {
				stages = append(stages, stageRow(course.ID, ext, sd, now))
			}
		}

		if err := s.extensionRepo.Create(ctx, tx, extensions); err != nil {
			return err
		}
		return s.stageRepo.Create(ctx, tx, stages)
	})
	if err != nil {
		return nil, false, err
	}

	s.log.Info("Course created", "slug", course.Slug, "stage_count", course.StageCount, "generation", gen.ID())
	return course, true, nil
}

func (s *courseService) Update(ctx context.Context, slug string) (*types.Course, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	gen, err := s.cache.Refresh(ctx, slug, course.Repository)
	if err != nil {
		return nil, err
	}
	defer s.cache.Release(gen)

	def, err := parseDefinition(gen)
	if err != nil {
		return nil, apierr.UnprocessableEntity("invalid_course_definition", err)
	}
	if def.Slug != slug {
		return nil, apierr.UnprocessableEntity("course_slug_changed",
			fmt.Errorf("course.yml declares slug %q, stored course is %q", def.Slug, slug))
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		course.Name = def.Name
		course.ShortName = def.ShortName
		course.ReleaseStatus = def.ReleaseStatus
		course.Description = def.Description
		course.Summary = def.Summary
		course.StageCount = totalStages(def)
		course.UpdatedAt = now
		if err := s.courseRepo.Save(ctx, tx, course); err != nil {
			return err
		}

		keptExtensions := make(map[string]*types.Extension, len(def.Extensions))
		for i, ed := range def.Extensions {
			ext := extensionRow(course.ID, i, ed, now)
			if err := s.extensionRepo.Upsert(ctx, tx, ext); err != nil {
				return err
			}
			keptExtensions[ed.Slug] = ext
		}

		keptStages := make(map[string]bool, course.StageCount)
		for _, sd := range def.Stages {
			if err := s.stageRepo.Upsert(ctx, tx, stageRow(course.ID, nil, sd, now)); err != nil {
				return err
			}
			keptStages[sd.Slug] = true
		}
		for _, ed := range def.Extensions {
			ext := keptExtensions[ed.Slug]
			for _, sd := range ed.Stages {
				if err := s.stageRepo.Upsert(ctx, tx, stageRow(course.ID, ext, sd, now)); err != nil {
					return err
				}
				keptStages[sd.Slug] = true
			}
		}

		// Rows whose slug disappeared upstream are orphans; dropping a
		// stage cascades into its progress rows.
		stages, err := s.stageRepo.ListByCourseID(ctx, tx, course.ID)
		if err != nil {
			return err
		}
		var orphanStages []uuid.UUID
		for _, st := range stages {
			if !keptStages[st.Slug] {
				orphanStages = append(orphanStages, st.ID)
			}
		}
		if err := s.stageRepo.DeleteByIDs(ctx, tx, orphanStages); err != nil {
			return err
		}

		extensions, err := s.extensionRepo.ListByCourseID(ctx, tx, course.ID)
		if err != nil {
			return err
		}
		var orphanExtensions []uuid.UUID
		for _, ext := range extensions {
			if keptExtensions[ext.Slug] == nil {
				orphanExtensions = append(orphanExtensions, ext.ID)
			}
		}
		return s.extensionRepo.DeleteByIDs(ctx, tx, orphanExtensions)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Course updated", "slug", slug, "stage_count", course.StageCount, "generation", gen.ID())
	return course, nil
}

func (s *courseService) Delete(ctx context.Context, slug string) error {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.courseRepo.DeleteByID(ctx, nil, course.ID); err != nil {
		return err
	}
	s.log.Info("Course deleted", "slug", slug)
	return nil
}

func (s *courseService) Get(ctx context.Context, slug string) (*types.Course, error) {
	return s.getBySlug(ctx, slug)
}

func (s *courseService) List(ctx context.Context) ([]*types.Course, error) {
	return s.courseRepo.List(ctx, nil)
}

func (s *courseService) ListStages(ctx context.Context, slug string) ([]*types.Stage, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.stageRepo.ListByCourseID(ctx, nil, course.ID)
}

func (s *courseService) ListBaseStages(ctx context.Context, slug string) ([]*types.Stage, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.stageRepo.ListBaseByCourseID(ctx, nil, course.ID)
}

func (s *courseService) ListExtendedStages(ctx context.Context, slug string) ([]*types.Stage, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.stageRepo.ListExtendedByCourseID(ctx, nil, course.ID)
}

func (s *courseService) GetStage(ctx context.Context, slug, stageSlug string) (*types.Stage, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	stage, err := s.stageRepo.GetByCourseAndSlug(ctx, nil, course.ID, stageSlug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("stage_not_found", err)
	}
	if err != nil {
		return nil, err
	}
	return stage, nil
}

func (s *courseService) ListExtensions(ctx context.Context, slug string) ([]*types.Extension, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.extensionRepo.ListByCourseID(ctx, nil, course.ID)
}

func (s *courseService) ListAttempts(ctx context.Context, slug string) ([]*types.Attempt, error) {
	course, err := s.getBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	enrollments, err := s.enrollmentRepo.ListByCourseID(ctx, nil, course.ID)
	if err != nil {
		return nil, err
	}

	attempts := make([]*types.Attempt, 0, len(enrollments))
	for _, enrollment := range enrollments {
		attempts = append(attempts, &types.Attempt{
			UserID:    enrollment.UserID,
			Completed: enrollment.CompletedStageCount,
			Total:     course.StageCount,
		})
	}
	return attempts, nil
}

func (s *courseService) RefreshAll(ctx context.Context) error {
	courses, err := s.courseRepo.List(ctx, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshAllLimit)
	for _, course := range courses {
		course := course
		g.Go(func() error {
			if _, err := s.Update(gctx, course.Slug); err != nil {
				s.log.Warn("Course refresh failed", "slug", course.Slug, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *courseService) getBySlug(ctx context.Context, slug string) (*types.Course, error) {
	course, err := s.courseRepo.GetBySlug(ctx, nil, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("course_not_found", err)
	}
	if err != nil {
		return nil, err
	}
	return course, nil
}

func parseDefinition(gen *mirror.Generation) (*schema.Definition, error) {
	commit, err := gen.HeadCommit()
	if err != nil {
		return nil, err
	}
	return schema.Parse(commit)
}

func totalStages(def *schema.Definition) int {
	total := len(def.Stages)
	for _, ext := range def.Extensions {
		total += len(ext.Stages)
	}
	return total
}

func extensionRow(courseID uuid.UUID, index int, def schema.ExtensionDef, now time.Time) *types.Extension {
	return &types.Extension{
		ID:          uuid.New(),
		CourseID:    courseID,
		Slug:        def.Slug,
		Name:        def.Name,
		Description: def.Description,
		StageCount:  len(def.Stages),
		Weight:      index,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func stageRow(courseID uuid.UUID, ext *types.Extension, def schema.StageDef, now time.Time) *types.Stage {
	row := &types.Stage{
		ID:          uuid.New(),
		CourseID:    courseID,
		Slug:        def.Slug,
		Name:        def.Name,
		Difficulty:  def.Difficulty,
		Description: def.Description,
		Instruction: def.Instruction,
		Weight:      def.Weight,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if def.Solution != "" {
		solution := def.Solution
		row.Solution = &solution
	}
	if ext != nil {
		row.ExtensionID = &ext.ID
		extSlug := ext.Slug
		row.ExtensionSlug = &extSlug
	}
	return row
}
