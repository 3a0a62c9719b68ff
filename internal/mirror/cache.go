package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/platform/logger"
)

var tracer = otel.Tracer("mirror")

const (
	stagingDir = "_staging"
	coursesDir = "courses"
)

// Cache keeps bare mirrors of course template repositories on local
// disk, one immutable generation per sync. Readers pin generations and
// must Release them; a Refresh never blocks readers and never replaces
// the active generation with a partially-synced one.
type Cache interface {
	// Ensure returns the active generation for slug, syncing it first
	// if the cache is cold. Concurrent cold Ensures for one slug share
	// a single sync. The returned generation is pinned.
	Ensure(ctx context.Context, slug, url string) (*Generation, error)

	// Refresh syncs a fresh generation from upstream and installs it as
	// active, retiring the previous one. Refreshes for one slug
	// serialize; distinct slugs proceed in parallel. The returned
	// generation is pinned.
	Refresh(ctx context.Context, slug, url string) (*Generation, error)

	// Stage syncs a generation without installing it, for flows that
	// only learn the course slug from the synced content. The returned
	// generation is pinned; releasing it uninstalled deletes it.
	Stage(ctx context.Context, url string) (*Generation, error)

	// Install makes a staged generation the active one for slug.
	Install(slug string, gen *Generation) error

	// Release unpins a generation, deleting it from disk when it was
	// retired and this was the last pin.
	Release(gen *Generation)
}

type cache struct {
	root        string
	syncTimeout time.Duration
	creds       gitx.Credentials
	log         *logger.Logger

	mu        sync.RWMutex
	active    map[string]*Generation
	refreshMu map[string]*sync.Mutex

	flight singleflight.Group
}

// NewCache creates a cache rooted at root. Generations from earlier
// runs are unreachable (the active map is in-memory only), so the root
// is cleared to reclaim their disk space.
func NewCache(root string, syncTimeout time.Duration, creds gitx.Credentials, log *logger.Logger) (Cache, error) {
	for _, sub := range []string{stagingDir, coursesDir} {
		dir := filepath.Join(root, sub)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear cache dir %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
		}
	}

	return &cache{
		root:        root,
		syncTimeout: syncTimeout,
		creds:       creds,
		log:         log.With("service", "mirror_cache"),
		active:      make(map[string]*Generation),
		refreshMu:   make(map[string]*sync.Mutex),
	}, nil
}

func (c *cache) Ensure(ctx context.Context, slug, url string) (*Generation, error) {
	ctx, span := tracer.Start(ctx, "mirror::Ensure")
	defer span.End()

	for {
		if gen := c.pinActive(slug); gen != nil {
			return gen, nil
		}

		_, err, _ := c.flight.Do(slug, func() (interface{}, error) {
			// Another flight may have installed while we queued.
			if gen := c.pinActive(slug); gen != nil {
				c.Release(gen)
				return nil, nil
			}

			gen, err := c.Stage(ctx, url)
			if err != nil {
				return nil, err
			}
			if err := c.Install(slug, gen); err != nil {
				c.Release(gen)
				return nil, err
			}
			c.Release(gen)
			return nil, nil
		})
		if err != nil {
			return nil, c.syncErr(slug, url, err)
		}
	}
}

func (c *cache) Refresh(ctx context.Context, slug, url string) (*Generation, error) {
	ctx, span := tracer.Start(ctx, "mirror::Refresh")
	defer span.End()

	lock := c.refreshLock(slug)
	lock.Lock()
	defer lock.Unlock()

	prior := c.pinActive(slug)
	gen, err := c.stage(ctx, url, prior)
	if prior != nil {
		c.Release(prior)
	}
	if err != nil {
		return nil, c.syncErr(slug, url, err)
	}

	if err := c.Install(slug, gen); err != nil {
		c.Release(gen)
		return nil, err
	}
	c.log.Info("refreshed course mirror", "slug", slug, "generation", gen.ID(), "head", gen.Head().String())
	return gen, nil
}

func (c *cache) Stage(ctx context.Context, url string) (*Generation, error) {
	ctx, span := tracer.Start(ctx, "mirror::Stage")
	defer span.End()

	gen, err := c.stage(ctx, url, nil)
	if err != nil {
		return nil, c.syncErr("", url, err)
	}
	return gen, nil
}

// stage builds a pinned, uninstalled generation. When prior is given,
// its object store and branches seed the new one so the upstream fetch
// only transfers the delta.
func (c *cache) stage(ctx context.Context, url string, prior *Generation) (*Generation, error) {
	id := uuid.New()
	dir := filepath.Join(c.root, stagingDir, id.String())

	cleanup := dir
	defer func() {
		if cleanup != "" {
			os.RemoveAll(cleanup)
		}
	}()

	repo, err := gitx.InitMirror(dir, url)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		if err := gitx.CopyObjects(prior.Dir(), dir); err != nil {
			c.log.Warn("seeding from prior generation failed, falling back to full fetch",
				"prior", prior.ID(), "error", err)
		} else if err := gitx.CopyBranches(prior.Repository(), repo); err != nil {
			return nil, fmt.Errorf("copy branches from prior generation: %w", err)
		}
	}

	fetchCtx := ctx
	if c.syncTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.syncTimeout)
		defer cancel()
	}
	if err := gitx.Fetch(fetchCtx, repo, c.creds); err != nil {
		return nil, err
	}

	head, err := gitx.ResolveHeadCommit(repo)
	if err != nil {
		return nil, err
	}

	cleanup = ""
	return &Generation{id: id, dir: dir, repo: repo, head: head.Hash, pins: 1}, nil
}

// Install renames the staged generation into the courses tree and swaps
// it in as the active one for slug. The staged generation must not be
// read concurrently with Install.
func (c *cache) Install(slug string, gen *Generation) error {
	dest := filepath.Join(c.root, coursesDir, slug, gen.ID().String())
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &SyncError{Slug: slug, Err: err}
	}
	if err := os.Rename(gen.dir, dest); err != nil {
		return &SyncError{Slug: slug, Err: fmt.Errorf("install generation: %w", err)}
	}

	repo, err := gitx.Open(dest)
	if err != nil {
		os.RemoveAll(dest)
		return &SyncError{Slug: slug, Err: fmt.Errorf("reopen installed generation: %w", err)}
	}
	gen.dir = dest
	gen.repo = repo
	gen.markActive(slug)

	c.mu.Lock()
	old := c.active[slug]
	c.active[slug] = gen
	c.mu.Unlock()

	if old != nil && old.retire() {
		c.remove(old)
	}
	return nil
}

func (c *cache) Release(gen *Generation) {
	if gen == nil {
		return
	}
	if gen.unpin() {
		c.remove(gen)
	}
}

func (c *cache) pinActive(slug string) *Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gen := c.active[slug]
	if gen == nil {
		return nil
	}
	if err := gen.pin(); err != nil {
		return nil
	}
	return gen
}

func (c *cache) refreshLock(slug string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock := c.refreshMu[slug]
	if lock == nil {
		lock = &sync.Mutex{}
		c.refreshMu[slug] = lock
	}
	return lock
}

func (c *cache) remove(gen *Generation) {
	if err := os.RemoveAll(gen.dir); err != nil {
		c.log.Warn("removing retired generation failed", "dir", gen.dir, "error", err)
		return
	}
	c.log.Debug("removed retired generation", "generation", gen.ID(), "dir", gen.dir)
}

func (c *cache) syncErr(slug, url string, err error) error {
	var serr *SyncError
	if errors.As(err, &serr) {
		return err
	}
	return &SyncError{Slug: slug, URL: url, Err: err}
}
