package fsstream

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Closer is a cancellation handle bound to a single path the backend was
// asked to watch. Invoking it releases the underlying OS resource; it is
// safe to invoke more than once; the registry removes its map entry before
// invocation so a concurrent removal can't double-release.
type Closer func() error

// WatchedDir is the in-memory model of a single watched directory: its
// absolute canonical path, and the basenames of the children currently known
// to exist under it.
type WatchedDir struct {
	Path     string
	children map[string]struct{}
	closer   Closer
}

func newWatchedDir(path string) *WatchedDir {
	return &WatchedDir{Path: path, children: make(map[string]struct{})}
}

// Children returns a snapshot slice of the currently-known child basenames.
func (d *WatchedDir) Children() []string {
	out := make([]string, 0, len(d.children))
	for c := range d.children {
		out = append(out, c)
	}
	return out
}

func (d *WatchedDir) has(basename string) bool {
	_, ok := d.children[basename]
	return ok
}

func (d *WatchedDir) add(basename string) {
	if basename == "." || basename == ".." || basename == "" {
		return
	}
	d.children[basename] = struct{}{}
}

func (d *WatchedDir) remove(basename string) {
	delete(d.children, basename)
}

func (d *WatchedDir) empty() bool {
	return len(d.children) == 0
}

// Registry is the mapping from absolute directory path to WatchedDir. A
// directory enters the registry the first time any of its entries is
// observed; it leaves when explicitly removed by the Removal Engine or by
// Engine.Close.
//
// Registry is safe for concurrent use: backends run on their own goroutines
// and report discovered children and removals through the Engine's callbacks
// directly, and every method takes the registry's own lock.
type Registry struct {
	mu   sync.Mutex
	dirs map[string]*WatchedDir
}

// NewRegistry constructs an empty watch registry.
func NewRegistry() *Registry {
	return &Registry{dirs: make(map[string]*WatchedDir)}
}

// Get returns the WatchedDir for dir, creating it lazily if absent.
func (r *Registry) Get(dir string) *WatchedDir {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(dir)
}

func (r *Registry) getLocked(dir string) *WatchedDir {
	wd, ok := r.dirs[dir]
	if !ok {
		wd = newWatchedDir(dir)
		r.dirs[dir] = wd
	}
	return wd
}

// Lookup returns the WatchedDir for dir without creating it.
func (r *Registry) Lookup(dir string) (*WatchedDir, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.dirs[dir]
	return wd, ok
}

// Add records basename as a child of dir, creating the WatchedDir lazily.
func (r *Registry) Add(dir, basename string) {
	if basename == "." || basename == ".." {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(dir).add(basename)
}

// Has reports whether basename is a known child of dir.
func (r *Registry) Has(dir, basename string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.dirs[dir]
	if !ok {
		return false
	}
	return wd.has(basename)
}

// Children returns the known child basenames of dir.
func (r *Registry) Children(dir string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.dirs[dir]
	if !ok {
		return nil
	}
	return wd.Children()
}

// SetCloser attaches the backend-supplied Closer for dir.
func (r *Registry) SetCloser(dir string, c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(dir).closer = c
}

// CloserOf returns dir's currently attached Closer, if any, without
// detaching it or touching its child set.
func (r *Registry) CloserOf(dir string) Closer {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.dirs[dir]
	if !ok {
		return nil
	}
	return wd.closer
}

// IsDir reports whether path is itself a registered watched directory.
func (r *Registry) IsDir(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dirs[path]
	return ok
}

// removeResult describes what Remove found and did, used by the Removal
// Engine to decide which events to emit.
type removeResult struct {
	tracked bool
	closer  Closer
}

// Remove deletes basename from dir's children. If this empties dir, it
// probes the directory's existence on disk; if dir itself is gone it is
// reported via needsParentRemoval so the caller (the Removal Engine) can
// schedule dir's own removal through ITS parent. Remove never recurses
// itself — recursion into children is the Removal Engine's job, using an
// iterative traversal so deep trees don't blow the stack.
func (r *Registry) Remove(dir, basename string) (res removeResult, needsParentRemoval bool) {
	r.mu.Lock()
	wd, ok := r.dirs[dir]
	if ok {
		res.tracked = wd.has(basename)
		wd.remove(basename)
	}
	emptied := ok && wd.empty()
	r.mu.Unlock()

	if emptied {
		if _, err := os.Stat(dir); err != nil && os.IsNotExist(err) {
			needsParentRemoval = true
		}
	}
	return res, needsParentRemoval
}

// Drop removes dir's own registry entry and returns its Closer, if any. It
// does not touch dir's parent's child set — callers update that separately.
func (r *Registry) Drop(dir string) Closer {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.dirs[dir]
	if !ok {
		return nil
	}
	delete(r.dirs, dir)
	return wd.closer
}

// Clear empties the registry and returns every Closer it held, in no
// particular order, for the caller (Engine.Close) to invoke.
func (r *Registry) Clear() []Closer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Closer, 0, len(r.dirs))
	for _, wd := range r.dirs {
		if wd.closer != nil {
			out = append(out, wd.closer)
		}
	}
	r.dirs = make(map[string]*WatchedDir)
	return out
}

// Snapshot returns a mapping of directory path to sorted child basenames,
// relative to cwd when cwd is non-empty — the shape getWatched() returns.
func (r *Registry) Snapshot(cwd string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.dirs))
	for dir, wd := range r.dirs {
		key := dir
		if cwd != "" {
			if rel, err := filepath.Rel(cwd, dir); err == nil {
				key = filepath.ToSlash(rel)
			}
		}
		children := wd.Children()
		sort.Strings(children)
		out[key] = children
	}
	return out
}
