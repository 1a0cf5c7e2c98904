package fsstream

import (
	"sync"
	"time"
)

// DefaultAtomicWindow is the default debounce window used to detect an
// editor's atomic-save unlink+add pattern (spec.md §4.6).
const DefaultAtomicWindow = 100 * time.Millisecond

type pendingUnlink struct {
	event Event
	timer *time.Timer
}

// AtomicReconciler fuses an unlink quickly followed by an add for the same
// path into a single Change event (spec.md §4.6). It is enabled by default
// when the active backend is the per-directory native backend, and disabled
// for the polling and recursive-wrapper backends (see Engine's backend
// selection).
type AtomicReconciler struct {
	window  time.Duration
	release func(Event) // called with the ordinary Unlink event once the window lapses

	mu      sync.Mutex
	pending map[string]*pendingUnlink
}

// NewAtomicReconciler constructs a reconciler with the given window. release
// is invoked for every unlink whose window elapses without a matching add.
func NewAtomicReconciler(window time.Duration, release func(Event)) *AtomicReconciler {
	if window <= 0 {
		window = DefaultAtomicWindow
	}
	return &AtomicReconciler{
		window:  window,
		release: release,
		pending: make(map[string]*pendingUnlink),
	}
}

// Unlink records path's unlink event, pending release after the window. The
// caller must not emit the event itself — Unlink owns its fate from here.
func (r *AtomicReconciler) Unlink(evt Event) {
	path := evt.Path
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.pending[path]; ok {
		old.timer.Stop()
	}
	pu := &pendingUnlink{event: evt}
	r.pending[path] = pu
	pu.timer = time.AfterFunc(r.window, func() { r.expire(path) })
}

// Add reports whether path had a pending unlink that should now be rewritten
// to Change; if so it cancels the release timer and returns true, and the
// caller is responsible for dispatching the rewritten Change event (with the
// new event's args, per spec.md §4.6).
func (r *AtomicReconciler) Add(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pu, ok := r.pending[path]
	if !ok {
		return false
	}
	pu.timer.Stop()
	delete(r.pending, path)
	return true
}

func (r *AtomicReconciler) expire(path string) {
	r.mu.Lock()
	pu, ok := r.pending[path]
	if ok {
		delete(r.pending, path)
	}
	r.mu.Unlock()
	if ok && r.release != nil {
		r.release(pu.event)
	}
}

// Stop cancels every outstanding release timer and drops all pending
// unlinks without releasing them — used by Engine.Close.
func (r *AtomicReconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, pu := range r.pending {
		pu.timer.Stop()
		delete(r.pending, path)
	}
}
