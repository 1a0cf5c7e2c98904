package fsstream

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// RecursiveBackend wraps any per-directory Backend and makes it watch an
// entire subtree from a single Add, adding a watch on every directory it
// discovers — both at startup and for every AddDir it subsequently observes
// — the way the teacher's backend_recursive.go layers recursion on top of a
// non-recursive base backend rather than duplicating the OS-notification
// code per platform.
type RecursiveBackend struct {
	base Backend

	mu      sync.Mutex
	closers map[string]Closer
}

// NewRecursiveBackend constructs a recursive wrapper around base.
func NewRecursiveBackend(base Backend) *RecursiveBackend {
	return &RecursiveBackend{base: base, closers: make(map[string]Closer)}
}

func (b *RecursiveBackend) Name() string    { return "recursive(" + b.base.Name() + ")" }
func (b *RecursiveBackend) Recursive() bool { return true }
func (b *RecursiveBackend) Polling() bool   { return b.base.Polling() }

// Close forwards to the base backend's Close, if it has one — e.g. the
// native backend's shared inotify file descriptor, which outlives any single
// directory's Closer.
func (b *RecursiveBackend) Close() error {
	if c, ok := b.base.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Watch walks root's entire subtree, registering base watches on every
// directory, and keeps registering new ones as subdirectories are created.
func (b *RecursiveBackend) Watch(root string, h *Helpers) (Closer, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Errorf("recursive backend: %s is not a directory", root)
	}

	var walkErr error
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if h.Filter != nil && h.Filter(path, true) {
			if path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if werr := b.watchOne(path, h); werr != nil {
			walkErr = werr
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}

	if h.OnScanComplete != nil {
		h.OnScanComplete()
	}

	return func() error {
		b.mu.Lock()
		closers := make([]Closer, 0, len(b.closers))
		prefix := strings.TrimSuffix(root, "/") + "/"
		for path, c := range b.closers {
			if path != root && !strings.HasPrefix(path, prefix) {
				continue // another root's watch on this shared backend
			}
			closers = append(closers, c)
			delete(b.closers, path)
		}
		b.mu.Unlock()
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

// watchOne registers dir with the base backend using a Helpers that
// intercepts AddDir notifications to extend the recursive watch onto the
// newly created subdirectory, the way the teacher's pipeEvents does for
// Create events under a recursive Add.
func (b *RecursiveBackend) watchOne(dir string, h *Helpers) error {
	b.mu.Lock()
	_, already := b.closers[dir]
	b.mu.Unlock()
	if already {
		return nil
	}

	wrapped := &Helpers{
		FollowSymlinks: h.FollowSymlinks,
		Filter:         h.Filter,
		OnChild:        h.OnChild,
		OnInitialEntry: h.OnInitialEntry,
		OnError:        h.OnError,
		OnEvent: func(kind Kind, path string, stat *Stat) {
			h.OnEvent(kind, path, stat)
			if kind == AddDir {
				// A directory created after startup has no initial entries:
				// whatever its first scan finds is reported as a live event.
				live := *h
				live.OnInitialEntry = func(parent, basename string, isDir bool) {
					if isDir {
						h.OnEvent(AddDir, joinPath(parent, basename), nil)
					} else {
						h.OnEvent(Add, joinPath(parent, basename), nil)
					}
				}
				// Best effort: if this races with the directory's removal,
				// base.Watch below will simply fail and be dropped.
				if werr := b.watchOne(path, &live); werr != nil && h.OnError != nil {
					h.OnError(werr)
				}
			}
		},
	}

	closer, err := b.base.Watch(dir, wrapped)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.closers[dir] = closer
	b.mu.Unlock()
	return nil
}
