package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func upstreamFiles() map[string]string {
	return map[string]string{
		"course.yml":       "slug: redis\n",
		"template/main.go": "package main\n",
	}
}

func newTestCache(t *testing.T) Cache {
	t.Helper()
	gitx.InstallFileTransport()

	c, err := NewCache(filepath.Join(t.TempDir(), "cache"), 30*time.Second, gitx.Credentials{}, mustTestLogger(t))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func TestEnsureColdSync(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	gitx.CreateBareRepository(t, upstream, upstreamFiles())

	gen, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	defer cache.Release(gen)

	commit, err := gen.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if _, err := tree.File("course.yml"); err != nil {
		t.Fatalf("mirrored tree missing course.yml: %v", err)
	}
	if gen.Slug() != "redis" {
		t.Fatalf("slug: want=%q got=%q", "redis", gen.Slug())
	}
}

func TestEnsureReusesActiveGeneration(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	gitx.CreateBareRepository(t, upstream, upstreamFiles())

	first, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	defer cache.Release(first)

	second, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	defer cache.Release(second)

	if first.ID() != second.ID() {
		t.Fatalf("generation id: want=%s got=%s", first.ID(), second.ID())
	}
}

func TestRefreshInstallsNewGeneration(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	repo := gitx.CreateBareRepository(t, upstream, upstreamFiles())

	old, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	defer cache.Release(old)

	files := upstreamFiles()
	files["template/server.go"] = "package main\n"
	newHead := gitx.AddCommit(t, repo, files, "add server")

	fresh, err := cache.Refresh(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	defer cache.Release(fresh)

	if fresh.ID() == old.ID() {
		t.Fatalf("Refresh returned the old generation %s", old.ID())
	}
	if fresh.Head() != newHead {
		t.Fatalf("head: want=%s got=%s", newHead, fresh.Head())
	}

	// The old pinned snapshot still reads at its original commit.
	oldCommit, err := old.HeadCommit()
	if err != nil {
		t.Fatalf("old HeadCommit: %v", err)
	}
	if _, err := oldCommit.Tree(); err != nil {
		t.Fatalf("old generation unreadable after refresh: %v", err)
	}

	current, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure after refresh: %v", err)
	}
	defer cache.Release(current)
	if current.ID() != fresh.ID() {
		t.Fatalf("active generation: want=%s got=%s", fresh.ID(), current.ID())
	}
}

func TestRefreshFailureKeepsPriorGeneration(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	gitx.CreateBareRepository(t, upstream, upstreamFiles())

	old, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	cache.Release(old)

	_, err = cache.Refresh(context.Background(), "redis", filepath.Join(t.TempDir(), "missing.git"))
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("Refresh: want SyncError got %v", err)
	}

	current, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure after failed refresh: %v", err)
	}
	defer cache.Release(current)
	if current.ID() != old.ID() {
		t.Fatalf("active generation: want=%s got=%s", old.ID(), current.ID())
	}
}

func TestRetiredGenerationRemovedAfterLastRelease(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	repo := gitx.CreateBareRepository(t, upstream, upstreamFiles())

	old, err := cache.Ensure(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	gitx.AddCommit(t, repo, upstreamFiles(), "touch")
	fresh, err := cache.Refresh(context.Background(), "redis", upstream)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	cache.Release(fresh)

	// Still pinned, so the retired generation must stay on disk.
	if _, err := os.Stat(old.Dir()); err != nil {
		t.Fatalf("retired generation deleted while pinned: %v", err)
	}

	cache.Release(old)
	if _, err := os.Stat(old.Dir()); !os.IsNotExist(err) {
		t.Fatalf("retired generation still on disk after last release: %v", err)
	}
}

func TestStageReleaseWithoutInstallDeletes(t *testing.T) {
	cache := newTestCache(t)
	upstream := filepath.Join(t.TempDir(), "course.git")
	gitx.CreateBareRepository(t, upstream, upstreamFiles())

	gen, err := cache.Stage(context.Background(), upstream)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	dir := gen.Dir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("staged generation missing: %v", err)
	}

	cache.Release(gen)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("abandoned staging dir still on disk: %v", err)
	}
}

func TestEnsureBadUpstreamReturnsSyncError(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Ensure(context.Background(), "ghost", filepath.Join(t.TempDir(), "missing.git"))
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("Ensure: want SyncError got %v", err)
	}
	if serr.Slug != "ghost" {
		t.Fatalf("sync error slug: want=%q got=%q", "ghost", serr.Slug)
	}
}
