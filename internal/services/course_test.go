package services

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/mirror"
	"github.com/stackclass/backend/internal/platform/apierr"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/types"
)

// interpreterCourseFiles is a complete course definition: two base stages,
// one extension stage and a starter template.
func interpreterCourseFiles() map[string]string {
	return map[string]string{
		"course.yml": `slug: interpreter
name: Build your own Interpreter
short_name: Interpreter
release_status: beta
description: Build a tree-walking interpreter.
summary: A tree-walking interpreter.
`,
		"stages/01-scan/stage.yml": `slug: scan-tokens
name: Scanning tokens
difficulty: very_easy
description: Turn source text into tokens.
`,
		"stages/01-scan/instruction.md": "# Scanning\n",
		"stages/01-scan/solution.md":    "Loop over the runes.\n",
		"stages/02-parse/stage.yml": `slug: parse-exprs
name: Parsing expressions
difficulty: medium
description: Build the expression tree.
`,
		"stages/02-parse/instruction.md": "# Parsing\n",
		"extensions.yml": `- slug: closures
  name: Closures
  description: Capture the defining environment.
`,
		"extensions/closures/01-capture/stage.yml": `slug: closure-capture
name: Capturing variables
difficulty: hard
description: Close over locals.
`,
		"extensions/closures/01-capture/instruction.md": "# Closures\n",
		"template/main.go": "package main\n",
	}
}

type courseFixture struct {
	service  CourseService
	database *gorm.DB
	upstream string
	repo     *git.Repository
}

func newCourseFixture(t *testing.T, files map[string]string) *courseFixture {
	t.Helper()
	gitx.InstallFileTransport()

	upstream := filepath.Join(t.TempDir(), "course.git")
	repo := gitx.CreateBareRepository(t, upstream, files)

	database := newTestDB(t)
	log := mustTestLogger(t)

	cache, err := mirror.NewCache(filepath.Join(t.TempDir(), "cache"), 30*time.Second, gitx.Credentials{}, log)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	service := NewCourseService(database, log, cache,
		repos.NewCourseRepo(database, log),
		repos.NewStageRepo(database, log),
		repos.NewExtensionRepo(database, log),
		repos.NewEnrollmentRepo(database, log))

	return &courseFixture{service: service, database: database, upstream: upstream, repo: repo}
}

func TestCreateCoursePersistsDefinition(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	course, created, err := fixture.service.Create(context.Background(), fixture.upstream)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatal("created: want=true got=false")
	}
	if course.Slug != "interpreter" || course.Name != "Build your own Interpreter" {
		t.Fatalf("unexpected course row: %+v", course)
	}
	if course.ReleaseStatus != types.ReleaseStatusBeta {
		t.Fatalf("release status: want=%q got=%q", types.ReleaseStatusBeta, course.ReleaseStatus)
	}
	if course.StageCount != 3 {
		t.Fatalf("stage count: want=3 got=%d", course.StageCount)
	}
	if course.Repository != fixture.upstream {
		t.Fatalf("repository: want=%q got=%q", fixture.upstream, course.Repository)
	}

	stages, err := fixture.service.ListStages(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("stage rows: want=3 got=%d", len(stages))
	}
	if stages[0].Slug != "scan-tokens" || stages[0].Weight != 0 {
		t.Fatalf("first stage: want=scan-tokens/0 got=%s/%d", stages[0].Slug, stages[0].Weight)
	}
	if stages[1].Slug != "parse-exprs" || stages[1].Weight != 1 {
		t.Fatalf("second stage: want=parse-exprs/1 got=%s/%d", stages[1].Slug, stages[1].Weight)
	}
	if stages[2].Slug != "closure-capture" || stages[2].Weight != 1000 {
		t.Fatalf("extension stage: want=closure-capture/1000 got=%s/%d", stages[2].Slug, stages[2].Weight)
	}
	if stages[0].Solution == nil {
		t.Fatal("first stage solution: want non-nil")
	}
	if stages[1].Solution != nil {
		t.Fatalf("second stage solution: want nil got=%q", *stages[1].Solution)
	}
	if stages[2].ExtensionSlug == nil || *stages[2].ExtensionSlug != "closures" {
		t.Fatalf("extension stage slug pointer: %+v", stages[2])
	}

	base, err := fixture.service.ListBaseStages(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListBaseStages: %v", err)
	}
	extended, err := fixture.service.ListExtendedStages(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListExtendedStages: %v", err)
	}
	if len(base) != 2 || len(extended) != 1 {
		t.Fatalf("stage split: want=2/1 got=%d/%d", len(base), len(extended))
	}

	extensions, err := fixture.service.ListExtensions(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListExtensions: %v", err)
	}
	if len(extensions) != 1 {
		t.Fatalf("extension rows: want=1 got=%d", len(extensions))
	}
	if extensions[0].Slug != "closures" || extensions[0].StageCount != 1 {
		t.Fatalf("unexpected extension row: %+v", extensions[0])
	}
}

func TestCreateCourseIdempotent(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	first, created, err := fixture.service.Create(context.Background(), fixture.upstream)
	if err != nil || !created {
		t.Fatalf("first Create: created=%v err=%v", created, err)
	}

	second, created, err := fixture.service.Create(context.Background(), fixture.upstream)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if created {
		t.Fatal("second Create reported created=true")
	}
	if second.ID != first.ID {
		t.Fatalf("course id: want=%s got=%s", first.ID, second.ID)
	}

	var stageRows int64
	if err := fixture.database.Model(&types.Stage{}).Count(&stageRows).Error; err != nil {
		t.Fatalf("count stages: %v", err)
	}
	if stageRows != 3 {
		t.Fatalf("stage rows after re-create: want=3 got=%d", stageRows)
	}
}

func TestCreateCourseMissingRepository(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	_, _, err := fixture.service.Create(context.Background(), "")
	apiErr := apierr.From(err)
	if apiErr == nil || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestCreateCourseInvalidDefinition(t *testing.T) {
	files := interpreterCourseFiles()
	delete(files, "course.yml")
	fixture := newCourseFixture(t, files)

	_, _, err := fixture.service.Create(context.Background(), fixture.upstream)
	apiErr := apierr.From(err)
	if apiErr == nil || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %v", err)
	}
	if apiErr.Code != "invalid_course_definition" {
		t.Fatalf("error code: want=%q got=%q", "invalid_course_definition", apiErr.Code)
	}

	var courseRows int64
	if err := fixture.database.Model(&types.Course{}).Count(&courseRows).Error; err != nil {
		t.Fatalf("count courses: %v", err)
	}
	if courseRows != 0 {
		t.Fatalf("course rows after failed create: want=0 got=%d", courseRows)
	}
}

func TestUpdateCourseReconcilesUpstream(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	if _, _, err := fixture.service.Create(context.Background(), fixture.upstream); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, err := fixture.service.GetStage(context.Background(), "interpreter", "scan-tokens")
	if err != nil {
		t.Fatalf("GetStage before update: %v", err)
	}

	// Upstream renames the first stage, drops the second and appends a
	// third; the extension is untouched.
	files := interpreterCourseFiles()
	files["stages/01-scan/stage.yml"] = `slug: scan-tokens
name: Scanning the source
difficulty: very_easy
description: Turn source text into tokens.
`
	delete(files, "stages/02-parse/stage.yml")
	delete(files, "stages/02-parse/instruction.md")
	files["stages/03-eval/stage.yml"] = `slug: eval-tree
name: Evaluating the tree
difficulty: medium
description: Walk the tree.
`
	files["stages/03-eval/instruction.md"] = "# Evaluating\n"
	gitx.AddCommit(t, fixture.repo, files, "rework stages")

	course, err := fixture.service.Update(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if course.StageCount != 3 {
		t.Fatalf("stage count: want=3 got=%d", course.StageCount)
	}

	stages, err := fixture.service.ListStages(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	slugs := make([]string, 0, len(stages))
	for _, stage := range stages {
		slugs = append(slugs, stage.Slug)
	}
	if len(stages) != 3 || slugs[0] != "scan-tokens" || slugs[1] != "eval-tree" || slugs[2] != "closure-capture" {
		t.Fatalf("reconciled stages: %v", slugs)
	}

	// Surviving stages keep their row so progress references stay valid.
	after, err := fixture.service.GetStage(context.Background(), "interpreter", "scan-tokens")
	if err != nil {
		t.Fatalf("GetStage after update: %v", err)
	}
	if after.ID != before.ID {
		t.Fatalf("stage id changed across update: want=%s got=%s", before.ID, after.ID)
	}
	if after.Name != "Scanning the source" {
		t.Fatalf("stage name: want=%q got=%q", "Scanning the source", after.Name)
	}

	if _, err := fixture.service.GetStage(context.Background(), "interpreter", "parse-exprs"); apierr.From(err) == nil {
		t.Fatalf("orphaned stage still present: %v", err)
	}
}

func TestUpdateCourseRemovesOrphanedExtension(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	if _, _, err := fixture.service.Create(context.Background(), fixture.upstream); err != nil {
		t.Fatalf("Create: %v", err)
	}

	files := interpreterCourseFiles()
	delete(files, "extensions.yml")
	delete(files, "extensions/closures/01-capture/stage.yml")
	delete(files, "extensions/closures/01-capture/instruction.md")
	gitx.AddCommit(t, fixture.repo, files, "drop closures extension")

	course, err := fixture.service.Update(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if course.StageCount != 2 {
		t.Fatalf("stage count: want=2 got=%d", course.StageCount)
	}

	extensions, err := fixture.service.ListExtensions(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListExtensions: %v", err)
	}
	if len(extensions) != 0 {
		t.Fatalf("extension rows: want=0 got=%d", len(extensions))
	}

	extended, err := fixture.service.ListExtendedStages(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListExtendedStages: %v", err)
	}
	if len(extended) != 0 {
		t.Fatalf("extension stages: want=0 got=%d", len(extended))
	}
}

func TestUpdateCourseSlugChangeRejected(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	if _, _, err := fixture.service.Create(context.Background(), fixture.upstream); err != nil {
		t.Fatalf("Create: %v", err)
	}

	files := interpreterCourseFiles()
	files["course.yml"] = `slug: compiler
name: Build your own Interpreter
short_name: Interpreter
release_status: beta
description: Build a tree-walking interpreter.
summary: A tree-walking interpreter.
`
	gitx.AddCommit(t, fixture.repo, files, "rename course")

	_, err := fixture.service.Update(context.Background(), "interpreter")
	apiErr := apierr.From(err)
	if apiErr == nil || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %v", err)
	}
	if apiErr.Code != "course_slug_changed" {
		t.Fatalf("error code: want=%q got=%q", "course_slug_changed", apiErr.Code)
	}
}

func TestUpdateCourseNotFound(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	_, err := fixture.service.Update(context.Background(), "no-such-course")
	apiErr := apierr.From(err)
	if apiErr == nil || apiErr.Status != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
}

func TestListAttempts(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	course, _, err := fixture.service.Create(context.Background(), fixture.upstream)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	seedEnrollment(t, fixture.database, course, "user-1")
	done := seedEnrollment(t, fixture.database, course, "user-2")
	err = fixture.database.Model(&types.Enrollment{}).
		Where("id = ?", done.ID).
		Update("completed_stage_count", 2).Error
	if err != nil {
		t.Fatalf("set completed count: %v", err)
	}

	attempts, err := fixture.service.ListAttempts(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts: want=2 got=%d", len(attempts))
	}
	byUser := make(map[string]*types.Attempt, len(attempts))
	for _, attempt := range attempts {
		byUser[attempt.UserID] = attempt
	}
	if a := byUser["user-1"]; a == nil || a.Completed != 0 || a.Total != 3 {
		t.Fatalf("user-1 attempt: %+v", a)
	}
	if a := byUser["user-2"]; a == nil || a.Completed != 2 || a.Total != 3 {
		t.Fatalf("user-2 attempt: %+v", a)
	}
}

func TestRefreshAllContinuesPastFailures(t *testing.T) {
	fixture := newCourseFixture(t, interpreterCourseFiles())

	if _, _, err := fixture.service.Create(context.Background(), fixture.upstream); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A course whose upstream is gone must not block the others.
	seedCourse(t, fixture.database, "ghost", filepath.Join(t.TempDir(), "missing.git"))

	files := interpreterCourseFiles()
	files["course.yml"] = `slug: interpreter
name: Build your own Interpreter v2
short_name: Interpreter
release_status: live
description: Build a tree-walking interpreter.
summary: A tree-walking interpreter.
`
	gitx.AddCommit(t, fixture.repo, files, "bump release")

	if err := fixture.service.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	course, err := fixture.service.Get(context.Background(), "interpreter")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if course.Name != "Build your own Interpreter v2" {
		t.Fatalf("course name after refresh: want=%q got=%q", "Build your own Interpreter v2", course.Name)
	}
	if course.ReleaseStatus != types.ReleaseStatusLive {
		t.Fatalf("release status after refresh: want=%q got=%q", types.ReleaseStatusLive, course.ReleaseStatus)
	}
}
