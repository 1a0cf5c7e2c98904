package fsstream

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine is the Add/Unwatch Orchestrator (C8): the watcher type users
// construct. It owns every core component and the backends it drives, and
// is the sole funnel through which backend goroutines reach core state —
// every Helpers callback it hands out calls back into Engine's dispatch
// path. Those callbacks run on the backends' own goroutines and on timer
// goroutines; there is no single dispatch goroutine, and each component
// guards its state with its own lock.
type Engine struct {
	cfg Config
	log zerolog.Logger

	registry   *Registry
	ignore     *IgnoreSet
	throttler  *Throttler
	stabilizer *StabilizationMonitor
	atomicRec  *AtomicReconciler
	emitter    *Emitter
	removal    *RemovalEngine

	recursiveBackend Backend // non-nil when useFsEvents resolved to on
	nativeBackend    Backend
	pollBackend      Backend
	usingRecursive   bool
	usingPolling     bool

	mu      sync.Mutex
	closed  bool
	backendOf map[string]string // watched root -> backend name, for introspection
}

// New constructs an Engine from the given options (spec.md §6, §4.8).
func New(opts ...Option) (*Engine, error) {
	cfg := NewConfig(opts...)

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "fsstream").Logger()

	registry := NewRegistry()
	throttler := NewThrottler()

	e := &Engine{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		throttler: throttler,
		backendOf: make(map[string]string),
	}

	// Backend selection (spec.md §4.8): prefer the recursive backend unless
	// disabled, then polling if requested or platform-unreliable, else the
	// per-directory native backend.
	wantRecursive := cfg.UseFsEvents == nil || *cfg.UseFsEvents
	if wantRecursive {
		if native, err := NewNativeBackend(); err == nil {
			e.recursiveBackend = NewRecursiveBackend(native)
			e.usingRecursive = true
		}
	}
	if !e.usingRecursive {
		if cfg.UsePolling || runtime.GOOS == "darwin" {
			e.pollBackend = NewPollBackend(cfg.Interval)
			e.usingPolling = true
		} else if native, err := NewNativeBackend(); err == nil {
			e.nativeBackend = native
		} else {
			e.pollBackend = NewPollBackend(cfg.Interval)
			e.usingPolling = true
		}
	}

	atomicEnabled := cfg.atomicEnabled(e.usingPolling, e.usingRecursive)
	e.ignore = NewIgnoreSet(atomicEnabled, cfg.IgnoredPatterns, cfg.IgnoredPredicates)

	e.emitter = NewEmitter(cfg.Cwd, cfg.AlwaysStat, nil, log, throttler, nil, nil)

	if cfg.AwaitWriteFinish.Enabled {
		e.stabilizer = NewStabilizationMonitor(cfg.AwaitWriteFinish.StabilityThreshold, cfg.AwaitWriteFinish.PollInterval, nil, e.emitter.emitStable, e.emitter.emitStatError)
	}
	if atomicEnabled {
		e.atomicRec = NewAtomicReconciler(cfg.atomicWindow(), e.emitter.releaseUnlink)
	}
	e.emitter.stabilizer = e.stabilizer
	e.emitter.atomic = e.atomicRec

	e.removal = NewRemovalEngine(registry, throttler, e.stabilizer, e.ignore, e.usingRecursive, e.rearmSingleDir, e.emitter.Emit)

	return e, nil
}

func (e *Engine) activeBackend() (b Backend, name string) {
	switch {
	case e.usingRecursive:
		return e.recursiveBackend, e.recursiveBackend.Name()
	case e.usingPolling:
		return e.pollBackend, e.pollBackend.Name()
	default:
		return e.nativeBackend, e.nativeBackend.Name()
	}
}

// On subscribes h to kind. OnAll subscribes h to every kind except Error.
func (e *Engine) On(kind Kind, h Handler) { e.emitter.On(kind, h) }
func (e *Engine) OnAll(h Handler)         { e.emitter.OnAll(h) }

// Add begins watching the given paths/globs/negations (spec.md §4.8). Each
// entry may be a literal path, a glob, or a `!`-prefixed negation. A
// non-string-shaped caller error is the Go equivalent of "fail fast on a
// non-string path" — callers use a typed []string so that class of mistake
// cannot reach Add at all; Add instead fails fast on the empty string.
func (e *Engine) Add(paths ...string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	var positives []string
	for _, raw := range paths {
		if raw == "" {
			return ErrInvalidPath
		}
		resolved := resolve(raw, e.cfg.Cwd)
		if neg := len(resolved) > 0 && resolved[0] == '!'; neg {
			p := resolved[1:]
			e.ignore.Learn(p)
			continue
		}
		// Brace alternations span more than one directory (e.g.
		// "{/a,/b}/*.log"), so they must be expanded into their literal
		// alternatives before classify/watchRoot ever sees them — each
		// alternative gets its own watch root.
		expanded := []string{resolved}
		if !e.cfg.DisableGlobbing {
			expanded = braceExpand(resolved)
		}
		for _, p := range expanded {
			e.ignore.Forget(p)
			positives = append(positives, p)
		}
	}

	units := len(positives)
	if units > 0 {
		e.emitter.ExpectReady(units)
	}

	// Each root's initial scan runs as its own errgroup member so that
	// N roots' directory walks overlap instead of serializing; Add itself
	// still doesn't return until every member has finished. Every backend
	// calls OnScanComplete exactly once per successful Watch, so exactly one
	// unit is retired per root either way.
	var g errgroup.Group
	for _, p := range positives {
		p := p
		g.Go(func() error {
			if err := e.addOne(p); err != nil {
				e.emitter.EmitError(errors.Wrapf(err, "add %s", p))
				e.emitter.RetireReady()
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (e *Engine) addOne(root string) error {
	var kind PathKind = Literal
	if !e.cfg.DisableGlobbing {
		kind = classify(root)
	}

	if kind == Glob {
		base := watchRoot(root)
		return e.watchDir(base, root)
	}
	return e.watchDir(root, "")
}

// watchDir arms the active backend on dir. If pattern is non-empty, only
// children matching pattern are surfaced — the glob-filtered Add from
// spec.md §4.8/scenario 4.
func (e *Engine) watchDir(dir, pattern string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}

	backend, name := e.activeBackend()
	if backend == nil {
		return errors.New("no backend available")
	}

	if !info.IsDir() {
		// A single watched file: watch its parent and filter to just this
		// basename, the standard per-directory-backend idiom for watching
		// individual files (backend_inotify.go's own doc comment).
		parent := filepath.Dir(dir)
		base := filepath.Base(dir)
		helpers := e.helpersFor(parent, "", base)
		closer, err := backend.Watch(parent, helpers)
		if err != nil {
			return err
		}
		e.registry.SetCloser(parent, closer)
		e.mu.Lock()
		e.backendOf[parent] = name
		e.mu.Unlock()
		return nil
	}

	helpers := e.helpersFor(dir, pattern, "")
	closer, err := backend.Watch(dir, helpers)
	if err != nil {
		return err
	}
	e.registry.SetCloser(dir, closer)
	e.mu.Lock()
	e.backendOf[dir] = name
	e.mu.Unlock()
	return nil
}

// helpersFor builds the Helpers a backend uses while watching dir. pattern,
// if non-empty, restricts matches to entries under dir matching the glob;
// onlyBasename, if non-empty, restricts to a single literal child name (the
// single-watched-file case).
func (e *Engine) helpersFor(dir, pattern, onlyBasename string) *Helpers {
	return &Helpers{
		FollowSymlinks: e.cfg.FollowSymlinks,
		Filter: func(path string, isDir bool) bool {
			if onlyBasename != "" && path != dir && filepath.Base(path) != onlyBasename {
				return true
			}
			if pattern != "" && !isDir && !globMatch(pattern, path) {
				return true
			}
			if e.ignore.IsIgnored(path, nil) {
				return true
			}
			return false
		},
		OnChild: func(parent, basename string, isDir bool) {
			e.registry.Add(parent, basename)
		},
		OnInitialEntry: func(parent, basename string, isDir bool) {
			if e.cfg.IgnoreInitial {
				return
			}
			path := joinPath(parent, basename)
			if isDir {
				e.emitter.Emit(AddDir, path, nil)
			} else {
				e.emitter.Emit(Add, path, nil)
			}
		},
		OnEvent: func(kind Kind, path string, stat *Stat) {
			e.handleRawEvent(kind, path, stat)
		},
		OnError: func(err error) {
			if classifyBackendError(err, e.cfg.IgnorePermissionErrors) {
				e.emitter.EmitError(err)
			}
		},
		OnScanComplete: func() {
			e.emitter.RetireReady()
		},
	}
}

func (e *Engine) handleRawEvent(kind Kind, path string, stat *Stat) {
	switch kind {
	case Unlink, UnlinkDir:
		parent, basename := splitPath(normalize(path))
		e.removal.Remove(parent, basename)
	default:
		e.emitter.Emit(kind, path, stat)
	}
}

// rearmSingleDir re-establishes a watch on dir after a single tracked file
// under it was removed (spec.md §4.10 step 3), so the file's eventual
// return is observed again under a non-recursive backend.
func (e *Engine) rearmSingleDir(dir string) error {
	backend, name := e.activeBackend()
	if backend == nil {
		return errors.New("no backend available")
	}
	helpers := e.helpersFor(dir, "", "")
	closer, err := backend.Watch(dir, helpers)
	if err != nil {
		return err
	}
	e.registry.SetCloser(dir, closer)
	e.mu.Lock()
	e.backendOf[dir] = name
	e.mu.Unlock()
	return nil
}

// Unwatch stops observing the given paths. It keeps processing every path
// given even after one is found unwatched, but returns ErrNonExistentWatch
// if any of them was never added.
func (e *Engine) Unwatch(paths ...string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	var firstErr error
	for _, raw := range paths {
		abs := resolve(raw, e.cfg.Cwd)
		closer := e.registry.Drop(abs)
		if closer == nil && firstErr == nil {
			firstErr = ErrNonExistentWatch
		}
		if closer != nil {
			_ = closer()
		}
		e.mu.Lock()
		delete(e.backendOf, abs)
		e.mu.Unlock()
		e.ignore.Learn(abs)
	}
	return firstErr
}

// Close marks the Engine closed, invokes every outstanding Closer, stops
// every timer, and clears the registry (spec.md §4.8, §5). It is
// idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.emitter.Close()
	e.throttler.Stop()
	if e.stabilizer != nil {
		e.stabilizer.Stop()
	}
	if e.atomicRec != nil {
		e.atomicRec.Stop()
	}
	for _, closer := range e.registry.Clear() {
		_ = closer()
	}

	// The native backend's reader goroutine lives as long as its shared
	// inotify fd, independent of any single directory's Closer — shut it
	// down explicitly so Close leaves nothing running.
	for _, b := range []Backend{e.recursiveBackend, e.nativeBackend} {
		if b == nil {
			continue
		}
		if c, ok := b.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return nil
}

// Watched returns a mapping from watched directory (relative to Config.Cwd
// when set) to the sorted basenames of its known children.
func (e *Engine) Watched() map[string][]string {
	return e.registry.Snapshot(e.cfg.Cwd)
}

// Backends reports, for each watched root, the name of the concrete Backend
// serving it — a supplemented introspection surface with no direct spec
// analogue (SPEC_FULL.md §5), grounded in the teacher's WatchList().
func (e *Engine) Backends() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.backendOf))
	for k, v := range e.backendOf {
		out[k] = v
	}
	return out
}
