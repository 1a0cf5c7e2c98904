package fsstream

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const changeThrottleWindow = 50 * time.Millisecond

// Emitter is the Event Normalizer / Emitter (spec.md §4.7): it relativizes
// paths, consults the stabilization monitor and atomic reconciler, throttles
// Change events, optionally enriches with a stat, and dispatches to
// subscribers. It also arbitrates the one-shot Ready signal (spec.md §4.7,
// "ready").
type Emitter struct {
	cwd        string
	alwaysStat bool
	stat       StatFunc
	log        zerolog.Logger

	throttler  *Throttler
	stabilizer *StabilizationMonitor // nil when awaitWriteFinish is disabled
	atomic     *AtomicReconciler     // nil when atomic-save reconciliation is disabled

	mu       sync.Mutex
	handlers map[Kind][]Handler
	all      []Handler

	closed int32

	ready readyBarrier
}

// NewEmitter constructs an Emitter. stabilizer and atomic may be nil when
// their respective features are disabled.
func NewEmitter(cwd string, alwaysStat bool, stat StatFunc, log zerolog.Logger, throttler *Throttler, stabilizer *StabilizationMonitor, atomic *AtomicReconciler) *Emitter {
	if stat == nil {
		stat = defaultStatFunc
	}
	e := &Emitter{
		cwd:        cwd,
		alwaysStat: alwaysStat,
		stat:       stat,
		log:        log,
		throttler:  throttler,
		stabilizer: stabilizer,
		atomic:     atomic,
		handlers:   make(map[Kind][]Handler),
	}
	return e
}

// On registers h for events of the given kind.
func (e *Emitter) On(kind Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], h)
}

// OnAll registers h for every kind except Error.
func (e *Emitter) OnAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Close marks the emitter closed; every future Emit/EmitError call, and any
// Ready not yet delivered, becomes a silent no-op (spec.md §5, "Closed
// watchers emit nothing").
func (e *Emitter) Close() {
	atomic.StoreInt32(&e.closed, 1)
}

func (e *Emitter) isClosed() bool {
	return atomic.LoadInt32(&e.closed) != 0
}

func (e *Emitter) relativize(path string) string {
	if e.cwd == "" {
		return path
	}
	if rel, err := filepath.Rel(e.cwd, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// Emit is the main entry point used by backends (through the Engine) for
// add/addDir/change/unlink/unlinkDir events. absPath is the untranslated,
// absolute path as seen on disk; relativization happens here.
func (e *Emitter) Emit(kind Kind, absPath string, stat *Stat) {
	if e.isClosed() {
		return
	}

	// Step 2: a path under write-stabilization swallows further add/change
	// notices; Pending() itself refreshes lastChange.
	if e.stabilizer != nil && (kind == Add || kind == Change) && e.stabilizer.Pending(absPath) {
		return
	}

	// Step 3: atomic-save reconciliation.
	if e.atomic != nil {
		switch kind {
		case Unlink:
			// Keyed and stored by the raw absolute path — Add below looks it
			// up the same way. Relativizing here (while Add still sees the
			// untranslated path) would make the two sides disagree whenever
			// cwd is set, and the fused/expired event would never match.
			e.atomic.Unlink(Event{Kind: Unlink, Path: absPath, Stat: stat})
			return
		case Add, Change:
			if e.atomic.Add(absPath) {
				kind = Change
			}
		}
	}

	// Write-stabilization hold: start (or refresh) tracking and defer the
	// emission until the file stops growing.
	if e.stabilizer != nil && (kind == Add || kind == Change) {
		e.stabilizer.Track(kind, absPath)
		return
	}

	e.dispatch(kind, absPath, stat)
}

// dispatch performs steps 4-6 of spec.md §4.7: throttle, stat enrichment,
// fan-out.
func (e *Emitter) dispatch(kind Kind, absPath string, stat *Stat) {
	if e.isClosed() {
		return
	}

	if kind == Change && e.throttler != nil {
		if _, ok := e.throttler.Throttle("change", absPath, changeThrottleWindow); !ok {
			e.log.Debug().Str("path", absPath).Msg("throttled duplicate change")
			return
		}
	}

	if e.alwaysStat && stat == nil && (kind == Add || kind == AddDir || kind == Change) {
		s, err := e.stat(absPath)
		if err != nil {
			e.log.Debug().Err(err).Str("path", absPath).Msg("alwaysStat suppressed event")
			return
		}
		stat = s
	}

	evt := Event{Kind: kind, Path: e.relativize(absPath), Stat: stat}
	e.fanOut(evt)
}

// releaseUnlink is the AtomicReconciler's release callback: it dispatches a
// plain unlink event whose window lapsed without a matching add (unlinkDir
// events are never held by the reconciler).
func (e *Emitter) releaseUnlink(evt Event) {
	if e.isClosed() {
		return
	}
	evt.Path = e.relativize(evt.Path)
	e.fanOut(evt)
}

// emitStable is the StabilizationMonitor's onStable callback.
func (e *Emitter) emitStable(origKind Kind, absPath string, stat *Stat) {
	e.dispatch(origKind, absPath, stat)
}

// emitStatError is the StabilizationMonitor's onError callback: a stat
// failure other than "not found" is surfaced as an Error event (spec.md §7).
func (e *Emitter) emitStatError(absPath string, err error) {
	e.EmitError(err)
}

func (e *Emitter) fanOut(evt Event) {
	e.mu.Lock()
	kindHandlers := append([]Handler(nil), e.handlers[evt.Kind]...)
	allHandlers := append([]Handler(nil), e.all...)
	e.mu.Unlock()

	for _, h := range kindHandlers {
		h(evt)
	}
	if evt.Kind != Error {
		for _, h := range allHandlers {
			h(evt)
		}
	}
}

// EmitError dispatches an Error event eagerly: it is never throttled,
// reconciled, or fanned to All (spec.md §5).
func (e *Emitter) EmitError(err error) {
	if e.isClosed() {
		return
	}
	evt := Event{Kind: Error, Err: err}
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers[Error]...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// readyBarrier is a one-shot barrier: Expect(n) adds n outstanding units,
// Retire() removes one, and once the count reaches zero Ready fires exactly
// once, deferred to the next scheduler turn so a caller that just called
// Add() has a chance to attach a listener first (spec.md §4.7, §5).
type readyBarrier struct {
	mu      sync.Mutex
	count   int
	fired   bool
	armed   bool
}

func (e *Emitter) ExpectReady(n int) {
	e.ready.mu.Lock()
	defer e.ready.mu.Unlock()
	e.ready.count += n
	e.ready.armed = true
}

// RetireReady retires one outstanding initial-scan unit. When the count
// reaches zero, Ready is emitted exactly once.
func (e *Emitter) RetireReady() {
	e.ready.mu.Lock()
	if !e.ready.armed || e.ready.fired {
		e.ready.mu.Unlock()
		return
	}
	e.ready.count--
	fire := e.ready.count <= 0
	if fire {
		e.ready.fired = true
	}
	e.ready.mu.Unlock()

	if fire {
		// Defer to the next scheduler turn (spec.md §5): the caller of
		// Add() must get a chance to subscribe before Ready fires.
		time.AfterFunc(0, func() {
			if e.isClosed() {
				return
			}
			e.fanOut(Event{Kind: Ready})
		})
	}
}
