package gitx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// WriteBlob stores data as a blob object and returns its hash.
func WriteBlob(store storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	eo := store.NewEncodedObject()
	eo.SetType(plumbing.BlobObject)
	eo.SetSize(int64(len(data)))

	w, err := eo.Writer()
	if err != nil {
		return plumbing.Hash{}, err
	}
	_, err = w.Write(data)
	w.Close()
	if err != nil {
		return plumbing.Hash{}, err
	}
	return store.SetEncodedObject(eo)
}

// TreeBuilder accumulates files by slash-separated path and writes the
// nested tree objects bottom-up. Paths must be relative; intermediate
// directories are created on demand.
type TreeBuilder struct {
	store storer.EncodedObjectStorer
	trees map[string]*object.Tree
}

func NewTreeBuilder(store storer.EncodedObjectStorer) *TreeBuilder {
	return &TreeBuilder{
		store: store,
		trees: map[string]*object.Tree{"": {}},
	}
}

// AddFile stores contents as a blob and records it at fullPath.
func (b *TreeBuilder) AddFile(fullPath string, contents []byte) error {
	dir, file := splitPath(fullPath)
	if file == "" {
		return fmt.Errorf("invalid path %q: no file name", fullPath)
	}

	hash, err := WriteBlob(b.store, contents)
	if err != nil {
		return err
	}

	tree := b.ensureTree(dir)
	setOrAddEntry(tree, object.TreeEntry{
		Name: file,
		Mode: filemode.Regular,
		Hash: hash,
	})
	return nil
}

// Write stores all accumulated trees and returns the root tree hash.
func (b *TreeBuilder) Write() (plumbing.Hash, error) {
	return b.writeTree("")
}

func (b *TreeBuilder) writeTree(treePath string) (plumbing.Hash, error) {
	tree, ok := b.trees[treePath]
	if !ok {
		return plumbing.Hash{}, fmt.Errorf("no tree at %q", treePath)
	}

	entries := tree.Entries
	sort.Slice(entries, func(i, j int) bool {
		return entrySortKey(&entries[i]) < entrySortKey(&entries[j])
	})

	for i := range entries {
		e := &entries[i]
		if e.Mode != filemode.Dir || !e.Hash.IsZero() {
			continue
		}
		hash, err := b.writeTree(path.Join(treePath, e.Name))
		if err != nil {
			return plumbing.Hash{}, err
		}
		e.Hash = hash
	}

	eo := b.store.NewEncodedObject()
	if err := tree.Encode(eo); err != nil {
		return plumbing.Hash{}, err
	}
	hash, err := b.store.SetEncodedObject(eo)
	if err != nil {
		return plumbing.Hash{}, err
	}
	tree.Hash = hash
	return hash, nil
}

func (b *TreeBuilder) ensureTree(fullPath string) *object.Tree {
	if tree, ok := b.trees[fullPath]; ok {
		return tree
	}

	dir, base := splitPath(fullPath)
	parent := b.ensureTree(dir)
	setOrAddEntry(parent, object.TreeEntry{
		Name: base,
		Mode: filemode.Dir,
	})

	tree := &object.Tree{}
	b.trees[fullPath] = tree
	return tree
}

func setOrAddEntry(tree *object.Tree, entry object.TreeEntry) {
	for i, e := range tree.Entries {
		if e.Name == entry.Name {
			tree.Entries[i] = entry
			return
		}
	}
	tree.Entries = append(tree.Entries, entry)
}

// Git sorts tree entries as though directories have '/' appended.
func entrySortKey(e *object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func splitPath(p string) (dir, file string) {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}

// WriteCommit stores a commit with the given tree and parents.
func WriteCommit(store storer.EncodedObjectStorer, tree plumbing.Hash, parents []plumbing.Hash, name, email, message string) (plumbing.Hash, error) {
	now := time.Now()
	sig := object.Signature{Name: name, Email: email, When: now}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  tree,
	}
	if len(parents) > 0 {
		commit.ParentHashes = parents
	}

	eo := store.NewEncodedObject()
	if err := commit.Encode(eo); err != nil {
		return plumbing.Hash{}, err
	}
	return store.SetEncodedObject(eo)
}

// CopyObjects shares the object database of one bare repository with
// another by hardlinking every file under objects/. Objects are
// content-addressed and never rewritten, so sharing is safe; when the
// link fails (cross-device, already present) it falls back to a copy.
func CopyObjects(srcGitDir, dstGitDir string) error {
	srcObjects := filepath.Join(srcGitDir, "objects")
	dstObjects := filepath.Join(dstGitDir, "objects")

	return filepath.WalkDir(srcObjects, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcObjects, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dstObjects, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if err := os.Link(p, target); err != nil {
			if errors.Is(err, os.ErrExist) {
				return nil
			}
			return copyFile(p, target)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
