package mirror

import (
	"errors"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
)

// ErrGenerationRetired is returned when pinning a generation that has
// already been retired and dropped to zero pins.
var ErrGenerationRetired = errors.New("generation retired")

// Generation is one immutable synced snapshot of a course repository.
// Readers pin a generation to keep it on disk; a retired generation is
// removed once its last pin is released. The repository contents are
// never mutated after the generation is built, so any number of readers
// may use it concurrently.
type Generation struct {
	id   uuid.UUID
	slug string
	dir  string
	repo *git.Repository
	head plumbing.Hash

	mu     sync.Mutex
	pins   int
	active bool
}

// ID identifies the generation uniquely across the cache lifetime.
func (g *Generation) ID() uuid.UUID { return g.id }

// Slug is the course slug, empty until the generation is installed.
func (g *Generation) Slug() string { return g.slug }

// Dir is the on-disk path of the bare repository.
func (g *Generation) Dir() string { return g.dir }

// Head is the commit the generation was resolved at during sync.
func (g *Generation) Head() plumbing.Hash { return g.head }

// Repository exposes the underlying bare repository for reads.
func (g *Generation) Repository() *git.Repository { return g.repo }

// HeadCommit loads the commit object for Head.
func (g *Generation) HeadCommit() (*object.Commit, error) {
	return g.repo.CommitObject(g.head)
}

func (g *Generation) pin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active && g.pins == 0 {
		return ErrGenerationRetired
	}
	g.pins++
	return nil
}

// unpin drops one pin and reports whether the generation is now
// deletable (retired with no remaining readers).
func (g *Generation) unpin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins--
	return !g.active && g.pins == 0
}

// markActive adds the cache's ownership pin when the generation is
// installed as the active one for a slug.
func (g *Generation) markActive(slug string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slug = slug
	g.active = true
	g.pins++
}

// retire drops the ownership pin and reports whether the generation is
// now deletable.
func (g *Generation) retire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.pins--
	return g.pins == 0
}
