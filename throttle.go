package fsstream

import (
	"sync"
	"time"
)

// throttleKey identifies a (action, path) pair in the throttle table.
type throttleKey struct {
	action string
	path   string
}

// ThrottleHandle is returned from the first throttled call for a given
// (action, path); Count reports how many subsequent calls were suppressed
// while the window was still open, as of the moment the caller reads it.
type ThrottleHandle struct {
	entry *throttleEntry
}

// Count returns the number of calls suppressed since this handle's window
// opened.
func (h ThrottleHandle) Count() int {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.count
}

type throttleEntry struct {
	mu    sync.Mutex
	count int
	timer *time.Timer
}

// Throttler suppresses duplicate actions for the same (action, path) within
// a window: the first call in a window opens it and returns a handle; every
// subsequent call while the window is open is suppressed and increments the
// handle's observable count. Used with a 50ms window for change events and a
// 100ms window for remove operations (spec.md §4.4).
type Throttler struct {
	mu      sync.Mutex
	entries map[throttleKey]*throttleEntry
}

// NewThrottler constructs an empty Throttler.
func NewThrottler() *Throttler {
	return &Throttler{entries: make(map[throttleKey]*throttleEntry)}
}

// Throttle attempts to open or join a throttle window for (action, path).
// ok is false when a window was already open (the call is suppressed);
// the returned handle is always the entry's handle, so callers can read
// Count() either way.
func (t *Throttler) Throttle(action, path string, window time.Duration) (handle ThrottleHandle, ok bool) {
	key := throttleKey{action, path}

	t.mu.Lock()
	if e, exists := t.entries[key]; exists {
		t.mu.Unlock()
		e.mu.Lock()
		e.count++
		e.mu.Unlock()
		return ThrottleHandle{e}, false
	}

	e := &throttleEntry{}
	t.entries[key] = e
	t.mu.Unlock()

	e.timer = time.AfterFunc(window, func() {
		t.mu.Lock()
		delete(t.entries, key)
		t.mu.Unlock()
	})

	return ThrottleHandle{e}, true
}

// Stop cancels every outstanding throttle timer — used by Engine.Close so no
// throttle callback fires after closure.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, k)
	}
}
