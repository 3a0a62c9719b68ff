package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/repos"
	"github.com/stackclass/backend/internal/types"
)

const (
	// stageBranchPrefix lets learners pick a stage explicitly by pushing
	// to refs/heads/stage/<slug>.
	stageBranchPrefix = "refs/heads/stage/"

	// ManifestFileName is the optional file at the pushed commit that
	// declares which stage the push attempts.
	ManifestFileName = ".stackclass.yml"
)

// ResolveRequest carries one event plus the rows the processor already
// loaded for it.
type ResolveRequest struct {
	Event      PushEvent
	Enrollment *types.Enrollment
	Course     *types.Course
}

// StageResolver maps a push event to the stage it is an attempt at.
// Implementations return *ResolutionError for events that cannot be
// mapped; those are dropped, never retried.
type StageResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*types.Stage, error)
}

// chainResolver tries, in order: the stage/<slug> branch convention,
// the .stackclass.yml manifest at the pushed commit, and finally the
// enrollment's current stage for pushes to main (the lowest-weight
// stage the learner has not completed).
type chainResolver struct {
	stages repos.StageRepo
	log    *logger.Logger
}

func NewResolver(stages repos.StageRepo, log *logger.Logger) StageResolver {
	return &chainResolver{
		stages: stages,
		log:    log.With("component", "StageResolver"),
	}
}

type manifestYAML struct {
	CurrentStage string `yaml:"current_stage"`
}

func (r *chainResolver) Resolve(ctx context.Context, req ResolveRequest) (*types.Stage, error) {
	ev := req.Event

	if ev.After == plumbing.ZeroHash.String() {
		return nil, &ResolutionError{Ref: ev.Ref, Reason: "ref deletion is not a stage attempt"}
	}

	if slug, ok := strings.CutPrefix(ev.Ref, stageBranchPrefix); ok {
		if slug == "" {
			return nil, &ResolutionError{Ref: ev.Ref, Reason: "empty stage slug in branch name"}
		}
		return r.lookup(ctx, req, slug)
	}

	if !strings.HasPrefix(ev.Ref, "refs/heads/") {
		return nil, &ResolutionError{Ref: ev.Ref, Reason: "only branch pushes map to stages"}
	}

	slug, found, err := r.manifestSlug(req)
	if err != nil {
		return nil, err
	}
	if found {
		return r.lookup(ctx, req, slug)
	}

	if ev.Ref != gitx.DefaultMainReferenceName.String() {
		return nil, &ResolutionError{Ref: ev.Ref, Reason: "branch matches no stage convention"}
	}

	// Push to main: the attempt targets whatever the learner is on,
	// which is the lowest-weight stage without a completed row.
	stage, err := r.stages.FirstIncomplete(ctx, nil, req.Course.ID, req.Enrollment.ID)
	if err != nil {
		return nil, fmt.Errorf("find current stage: %w", err)
	}
	if stage == nil {
		return nil, &ResolutionError{Ref: ev.Ref, Reason: "all stages already completed"}
	}
	return stage, nil
}

func (r *chainResolver) lookup(ctx context.Context, req ResolveRequest, slug string) (*types.Stage, error) {
	stage, err := r.stages.GetByCourseAndSlug(ctx, nil, req.Course.ID, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ResolutionError{Ref: req.Event.Ref, Reason: fmt.Sprintf("course %q has no stage %q", req.Course.Slug, slug)}
	}
	if err != nil {
		return nil, fmt.Errorf("look up stage %q: %w", slug, err)
	}
	return stage, nil
}

// manifestSlug reads the stage declaration from the pushed commit. A
// repository or commit that cannot be read falls through to the next
// rule; a manifest that exists but cannot be parsed is a resolution
// failure, since the learner clearly meant to declare something.
func (r *chainResolver) manifestSlug(req ResolveRequest) (string, bool, error) {
	repo, err := gitx.Open(req.Enrollment.RepoPath)
	if err != nil {
		r.log.Warn("cannot open learner repository for manifest read",
			"path", req.Enrollment.RepoPath, "error", err)
		return "", false, nil
	}

	commit, err := repo.CommitObject(plumbing.NewHash(req.Event.After))
	if err != nil {
		return "", false, nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", false, nil
	}
	file, err := tree.File(ManifestFileName)
	if err != nil {
		return "", false, nil
	}
	contents, err := file.Contents()
	if err != nil {
		return "", false, nil
	}

	var m manifestYAML
	if err := yaml.Unmarshal([]byte(contents), &m); err != nil {
		return "", false, &ResolutionError{Ref: req.Event.Ref, Reason: fmt.Sprintf("malformed %s: %v", ManifestFileName, err)}
	}
	if strings.TrimSpace(m.CurrentStage) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(m.CurrentStage), true, nil
}
