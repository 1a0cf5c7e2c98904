package fsstream

import (
	"errors"
	"os"
	"syscall"
)

// Helpers is the set of callbacks and decisions a Backend consults while
// watching a root; the Engine constructs one per Add() root and hands it to
// the selected Backend's Watch method. A Backend never touches the Registry
// or IgnoreSet directly — it only sees these callbacks (spec.md §4.9,
// "backends are external collaborators").
type Helpers struct {
	// FollowSymlinks mirrors Config.FollowSymlinks.
	FollowSymlinks bool

	// Filter reports whether path (with isDir known) should be excluded from
	// observation entirely — no event, no registry entry, no recursive
	// descent into it.
	Filter func(path string, isDir bool) bool

	// OnChild is called once per directory entry discovered, either during
	// the initial scan or after a directory-level notification, so the
	// Engine can update the Registry's child-tracking before deciding
	// whether to emit.
	OnChild func(dir, basename string, isDir bool)

	// OnInitialEntry is called once per entry found during a root's
	// initial scan only (never for entries discovered afterward) so the
	// Engine can decide whether to emit add/addDir for it, honoring
	// Config.IgnoreInitial.
	OnInitialEntry func(dir, basename string, isDir bool)

	// OnEvent delivers a raw, not-yet-reconciled notification up to the
	// Engine, which runs it through the Emitter pipeline (C7).
	OnEvent func(kind Kind, path string, stat *Stat)

	// OnError reports a backend-level failure; the Engine classifies it
	// (spec.md §7) before deciding whether to surface it as an Error event.
	OnError func(err error)

	// OnScanComplete is called exactly once, when root's initial directory
	// scan (and, for a recursive backend, every descendant's scan) has
	// finished — it retires one unit of the Engine's ready barrier.
	OnScanComplete func()
}

// Backend is the interface every concrete OS-notification strategy
// implements (spec.md §4.9). A Backend watches exactly one root — a single
// directory for the per-directory native and polling backends, or an entire
// subtree for the recursive wrapper — and reports everything it observes
// through the supplied Helpers.
type Backend interface {
	// Name identifies the backend for Engine.Backends() introspection
	// (SPEC_FULL.md §5).
	Name() string
	// Recursive reports whether this backend watches an entire subtree from
	// a single OS-level handle (disabling atomic-save reconciliation by
	// default, per Config.atomicEnabled).
	Recursive() bool
	// Polling reports whether this backend works by repeated stat/readdir
	// rather than OS notification (also disabling atomic-save by default).
	Polling() bool
	// Watch begins observing root and returns a Closer that stops it. Watch
	// performs (or schedules) the initial scan itself and calls
	// h.OnScanComplete when it finishes.
	Watch(root string, h *Helpers) (Closer, error)
}

// classifyBackendError decides how a raw backend-level error should be
// handled, per spec.md §7: a missing path or a path that stopped being a
// directory is swallowed unconditionally (the removal engine's own watch of
// the parent will emit the unlink), a permission error is swallowed only
// when ignorePermissionErrors is set, and everything else is surfaced.
func classifyBackendError(err error, ignorePermissionErrors bool) (surface bool) {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if errors.Is(err, syscall.ENOTDIR) {
		return false
	}
	if errors.Is(err, os.ErrPermission) {
		return !ignorePermissionErrors
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, os.ErrNotExist) {
			return false
		}
		if errors.Is(pathErr.Err, os.ErrPermission) {
			return !ignorePermissionErrors
		}
	}
	return true
}
