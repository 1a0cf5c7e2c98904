package fsstream

import (
	stdpath "path"
	"time"
)

// removeThrottleWindow guards against double-removal races: a backend may
// report the same disappearance more than once (e.g. both a parent-watch
// notification and a direct watch on the removed path itself).
const removeThrottleWindow = 100 * time.Millisecond

// RemovalEngine implements spec.md §4.10: recursively unwatching a subtree
// when a directory disappears, cancelling any pending stabilization work and
// emitting unlink/unlinkDir events bottom-up.
type RemovalEngine struct {
	registry   *Registry
	throttler  *Throttler
	stabilizer *StabilizationMonitor // nil when awaitWriteFinish is disabled
	ignore     *IgnoreSet
	emit       func(kind Kind, path string, stat *Stat)
	recursive  bool

	// rearm re-establishes a dropped single-file watch on dir, used by step
	// 3 (re-arming the parent so a recreated file is observed again) when
	// the active backend is non-recursive and this was the only watched
	// directory. It may be nil when re-arming is never needed (e.g. under a
	// recursive or polling backend).
	rearm func(dir string) error
}

// NewRemovalEngine constructs a RemovalEngine. emit is invoked for every
// confirmed unlink/unlinkDir; it should route into the Emitter the same way
// a backend's raw event does.
func NewRemovalEngine(registry *Registry, throttler *Throttler, stabilizer *StabilizationMonitor, ignore *IgnoreSet, recursive bool, rearm func(string) error, emit func(Kind, string, *Stat)) *RemovalEngine {
	return &RemovalEngine{
		registry:   registry,
		throttler:  throttler,
		stabilizer: stabilizer,
		ignore:     ignore,
		recursive:  recursive,
		rearm:      rearm,
		emit:       emit,
	}
}

type removalFrame struct {
	parent, basename, path string
}

// Remove unwatches parent/basename, recursively tearing down any
// descendants first (bottom-up, iteratively — spec.md §4.10 step 4 and the
// C2 stack-depth requirement), then propagating upward if removing it just
// emptied parent and parent itself no longer exists on disk.
func (e *RemovalEngine) Remove(parent, basename string) {
	for {
		path := joinPath(parent, basename)

		// Gather the whole subtree iteratively (pre-order), then process
		// leaves first so every child is torn down before its parent.
		var order []removalFrame
		stack := []removalFrame{{parent, basename, path}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			order = append(order, f)
			if e.registry.IsDir(f.path) {
				for _, child := range e.registry.Children(f.path) {
					stack = append(stack, removalFrame{f.path, child, joinPath(f.path, child)})
				}
			}
		}

		var needsParentRemoval bool
		for i := len(order) - 1; i >= 0; i-- {
			// Only order[0]'s parent is parent; a descendant's emptied
			// parent is itself in order and is torn down in this pass.
			if e.removeOne(order[i]) && i == 0 {
				needsParentRemoval = true
			}
		}

		if !needsParentRemoval {
			return
		}
		// parent itself is gone on disk; propagate the removal one level
		// up rather than recursing, so a deep chain of now-empty ancestors
		// doesn't grow the call stack.
		grandparent, grandBasename := splitPath(parent)
		parent, basename = grandparent, grandBasename
	}
}

// removeOne tears down a single node (already guaranteed to have no
// remaining tracked children) and reports whether its removal emptied its
// own parent to a point where the parent no longer exists on disk.
func (e *RemovalEngine) removeOne(f removalFrame) bool {
	isDir := e.registry.IsDir(f.path)

	if _, ok := e.throttler.Throttle("remove", f.path, removeThrottleWindow); !ok {
		return false
	}

	if !isDir && !e.recursive && e.singleWatchedDir() && e.rearm != nil {
		// Close the existing watch on f.parent before re-arming it — rearm
		// installs a brand new backend Closer for the same directory, and
		// leaving the old one attached would leak its goroutine/ticker.
		if old := e.registry.CloserOf(f.parent); old != nil {
			_ = old()
		}
		_ = e.rearm(f.parent)
	}

	res, needsParentRemoval := e.registry.Remove(f.parent, f.basename)

	cancelledAsAdd := false
	if e.stabilizer != nil {
		if kind, ok := e.stabilizer.Cancel(f.path); ok && kind == Add {
			cancelledAsAdd = true
		}
	}

	var closer Closer
	if isDir {
		closer = e.registry.Drop(f.path)
	}

	if res.tracked && !cancelledAsAdd && !e.ignore.IsIgnored(f.path, nil) {
		kind := Unlink
		if isDir {
			kind = UnlinkDir
		}
		if e.emit != nil {
			e.emit(kind, f.path, nil)
		}
	}

	if !e.recursive && closer != nil {
		_ = closer()
	}

	return needsParentRemoval
}

func (e *RemovalEngine) singleWatchedDir() bool {
	return len(e.registry.Snapshot("")) == 1
}

func joinPath(dir, basename string) string {
	if dir == "" || dir == "/" {
		return dir + basename
	}
	return dir + "/" + basename
}

func splitPath(path string) (dir, basename string) {
	dir, basename = stdpath.Split(path)
	if len(dir) > 1 {
		dir = dir[:len(dir)-1] // drop the trailing slash Split leaves
	}
	return dir, basename
}
