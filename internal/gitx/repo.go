package gitx

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	// OriginName is the single remote every mirror tracks.
	OriginName = "origin"

	// DefaultMainReferenceName is where provisioned repositories and
	// mirror HEAD resolution start looking.
	DefaultMainReferenceName plumbing.ReferenceName = "refs/heads/main"

	masterReferenceName plumbing.ReferenceName = "refs/heads/master"
)

// defaultFetchSpec mirrors every upstream branch into the same local
// namespace. Mirrors are read-only so there is no remotes/ indirection.
var defaultFetchSpec = []config.RefSpec{
	config.RefSpec("+refs/heads/*:refs/heads/*"),
}

// Credentials carries optional HTTP basic auth for upstream fetches.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) auth() transport.AuthMethod {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: c.Username, Password: c.Password}
}

// InitBare creates an empty bare repository at path with HEAD pointing
// at main instead of gogit's default master.
func InitBare(path string) (*git.Repository, error) {
	repo, err := git.PlainInit(path, true)
	if err != nil {
		return nil, err
	}
	if err := repo.Storer.RemoveReference(plumbing.Master); err != nil {
		return nil, err
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, DefaultMainReferenceName)
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, err
	}
	return repo, nil
}

// Open opens an existing bare repository with a shared object LRU.
func Open(path string) (*git.Repository, error) {
	dot := osfs.New(path)
	storage := filesystem.NewStorage(dot, cache.NewObjectLRUDefault())
	return git.Open(storage, dot)
}

// InitMirror creates a bare repository at path configured to fetch all
// branches from address. The directory is removed again if any step fails.
func InitMirror(path, address string) (*git.Repository, error) {
	cleanup := path
	defer func() {
		if cleanup != "" {
			os.RemoveAll(cleanup)
		}
	}()

	repo, err := InitBare(path)
	if err != nil {
		return nil, fmt.Errorf("init mirror at %q: %w", path, err)
	}
	if err := ensureOrigin(repo, address); err != nil {
		return nil, fmt.Errorf("configure origin %q: %w", address, err)
	}

	cleanup = ""
	return repo, nil
}

func ensureOrigin(repo *git.Repository, address string) error {
	cfg, err := repo.Config()
	if err != nil {
		return err
	}

	cfg.Remotes[OriginName] = &config.RemoteConfig{
		Name:  OriginName,
		URLs:  []string{address},
		Fetch: defaultFetchSpec,
	}

	return repo.SetConfig(cfg)
}

// Fetch updates all mirrored branches from origin, pruning branches the
// upstream deleted. Already-up-to-date and empty upstream are not errors.
func Fetch(ctx context.Context, repo *git.Repository, creds Credentials) error {
	switch err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: OriginName,
		Auth:       creds.auth(),
		Prune:      true,
		Tags:       git.NoTags,
	}); err {
	case nil, git.NoErrAlreadyUpToDate:
		return nil
	case transport.ErrEmptyRemoteRepository:
		return nil
	default:
		return err
	}
}

// CopyBranches copies every refs/heads/* reference from src into dst.
// Used together with CopyObjects to seed a new mirror generation from
// the previous one before fetching upstream.
func CopyBranches(src, dst *git.Repository) error {
	branches, err := src.Branches()
	if err != nil {
		return err
	}
	return branches.ForEach(func(ref *plumbing.Reference) error {
		return dst.Storer.SetReference(ref)
	})
}

// ResolveHeadCommit returns the commit a freshly synced mirror should be
// read at: main, then master, then whichever branch the iterator yields
// first. A mirror with no branches at all resolves to an error.
func ResolveHeadCommit(repo *git.Repository) (*object.Commit, error) {
	for _, name := range []plumbing.ReferenceName{DefaultMainReferenceName, masterReferenceName} {
		ref, err := repo.Reference(name, true)
		if err == nil {
			return repo.CommitObject(ref.Hash())
		}
		if err != plumbing.ErrReferenceNotFound {
			return nil, err
		}
	}

	branches, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	defer branches.Close()

	ref, err := branches.Next()
	if err != nil {
		return nil, fmt.Errorf("repository has no branches")
	}
	return repo.CommitObject(ref.Hash())
}
