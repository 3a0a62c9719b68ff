package gitx

import (
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
)

var installFileTransportOnce sync.Once

// InstallFileTransport routes plain-path remote URLs through go-git's
// in-process upload-pack server, so tests can fetch from local bare
// repositories without a git binary on PATH.
func InstallFileTransport() {
	installFileTransportOnce.Do(func() {
		client.InstallProtocol("file", server.NewClient(server.NewFilesystemLoader(osfs.New("/"))))
	})
}

// CreateBareRepository initializes a bare repository at path holding a
// single commit on main with the given files. Keys are slash-separated
// paths relative to the repository root.
func CreateBareRepository(t *testing.T, path string, files map[string]string) *git.Repository {
	t.Helper()

	repo, err := InitBare(path)
	if err != nil {
		t.Fatalf("InitBare(%q) failed: %v", path, err)
	}
	AddCommit(t, repo, files, "initial commit")
	return repo
}

// AddCommit writes files as the complete tree of a new commit appended
// to refs/heads/main and returns the commit hash.
func AddCommit(t *testing.T, repo *git.Repository, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	builder := NewTreeBuilder(repo.Storer)
	for p, contents := range files {
		if err := builder.AddFile(p, []byte(contents)); err != nil {
			t.Fatalf("AddFile(%q) failed: %v", p, err)
		}
	}
	tree, err := builder.Write()
	if err != nil {
		t.Fatalf("writing trees failed: %v", err)
	}

	var parents []plumbing.Hash
	if ref, err := repo.Reference(DefaultMainReferenceName, true); err == nil {
		parents = append(parents, ref.Hash())
	}

	commit, err := WriteCommit(repo.Storer, tree, parents, "Fixture", "fixture@test.local", message)
	if err != nil {
		t.Fatalf("WriteCommit failed: %v", err)
	}

	ref := plumbing.NewHashReference(DefaultMainReferenceName, commit)
	if err := repo.Storer.SetReference(ref); err != nil {
		t.Fatalf("SetReference(%s) failed: %v", DefaultMainReferenceName, err)
	}
	return commit
}
