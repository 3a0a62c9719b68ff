package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/platform/logger"
)

const (
	provisionAuthorName  = "StackClass"
	provisionAuthorEmail = "noreply@stackclass.dev"
	provisionMessage     = "Initial commit from template"
)

// Provisioner builds per-learner bare repositories from a course
// generation. A learner repository starts with a single root commit
// holding the generation's template/ subtree.
type Provisioner interface {
	// Provision creates the learner repository at dest, all or nothing:
	// on any failure nothing is left behind at dest. The generation is
	// only read, so concurrent provisions against it are safe.
	Provision(ctx context.Context, gen *Generation, dest string) error

	// ProvisionForCourse pins the course's active generation (syncing a
	// cold cache first) and provisions from it.
	ProvisionForCourse(ctx context.Context, slug, url, dest string) error
}

type provisioner struct {
	cache Cache
	log   *logger.Logger
}

func NewProvisioner(cache Cache, log *logger.Logger) Provisioner {
	return &provisioner{
		cache: cache,
		log:   log.With("service", "provisioner"),
	}
}

func (p *provisioner) Provision(ctx context.Context, gen *Generation, dest string) error {
	_, span := tracer.Start(ctx, "mirror::Provision")
	defer span.End()

	commit, err := gen.HeadCommit()
	if err != nil {
		return &ProvisionError{Dest: dest, Reason: "read generation head", Err: err}
	}
	root, err := commit.Tree()
	if err != nil {
		return &ProvisionError{Dest: dest, Reason: "read generation tree", Err: err}
	}
	tmpl, err := root.Tree("template")
	if err != nil {
		if errors.Is(err, object.ErrDirectoryNotFound) {
			return &ProvisionError{Dest: dest, Reason: "course has no template directory"}
		}
		return &ProvisionError{Dest: dest, Reason: "read template directory", Err: err}
	}

	staging := dest + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return &ProvisionError{Dest: dest, Reason: "clear staging directory", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return &ProvisionError{Dest: dest, Reason: "create repository root", Err: err}
	}

	cleanup := staging
	defer func() {
		if cleanup != "" {
			os.RemoveAll(cleanup)
		}
	}()

	repo, err := gitx.InitBare(staging)
	if err != nil {
		return &ProvisionError{Dest: dest, Reason: "init repository", Err: err}
	}
	if err := gitx.CopyObjects(gen.Dir(), staging); err != nil {
		return &ProvisionError{Dest: dest, Reason: "copy objects", Err: err}
	}

	hash, err := gitx.WriteCommit(repo.Storer, tmpl.Hash, nil,
		provisionAuthorName, provisionAuthorEmail, provisionMessage)
	if err != nil {
		return &ProvisionError{Dest: dest, Reason: "write initial commit", Err: err}
	}
	ref := plumbing.NewHashReference(gitx.DefaultMainReferenceName, hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return &ProvisionError{Dest: dest, Reason: "set main branch", Err: err}
	}

	if err := os.Rename(staging, dest); err != nil {
		return &ProvisionError{Dest: dest, Reason: "install repository", Err: err}
	}
	cleanup = ""

	p.log.Info("provisioned learner repository",
		"dest", dest, "generation", gen.ID(), "commit", hash.String())
	return nil
}

func (p *provisioner) ProvisionForCourse(ctx context.Context, slug, url, dest string) error {
	gen, err := p.cache.Ensure(ctx, slug, url)
	if err != nil {
		return err
	}
	defer p.cache.Release(gen)

	return p.Provision(ctx, gen, dest)
}
