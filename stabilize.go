package fsstream

import (
	"os"
	"sync"
	"time"
)

// StatFunc abstracts the filesystem stat call so the monitor can be driven
// by tests without touching a real disk.
type StatFunc func(path string) (*Stat, error)

func defaultStatFunc(path string) (*Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Stat{Size: info.Size(), Mode: uint32(info.Mode()), IsDir: info.IsDir()}, nil
}

type pendingWrite struct {
	mu          sync.Mutex
	lastChange  time.Time
	lastSize    int64
	haveSize    bool
	timer       *time.Timer
	origKind    Kind
	cancelled   bool
}

// StabilizationMonitor implements spec.md §4.5: it polls a file's size
// until it stops growing for stabilityThreshold, then releases the original
// add/change event enriched with the final stat.
type StabilizationMonitor struct {
	stabilityThreshold time.Duration
	pollInterval       time.Duration
	stat               StatFunc

	onStable func(origKind Kind, path string, stat *Stat)
	onError  func(path string, err error)

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

// NewStabilizationMonitor constructs a monitor. onStable is invoked once a
// file's size has held steady for stabilityThreshold; onError is invoked on
// any stat failure other than "not found".
func NewStabilizationMonitor(stabilityThreshold, pollInterval time.Duration, stat StatFunc, onStable func(Kind, string, *Stat), onError func(string, error)) *StabilizationMonitor {
	if stat == nil {
		stat = defaultStatFunc
	}
	return &StabilizationMonitor{
		stabilityThreshold: stabilityThreshold,
		pollInterval:       pollInterval,
		stat:               stat,
		onStable:           onStable,
		onError:            onError,
		pending:            make(map[string]*pendingWrite),
	}
}

// Track begins (or refreshes) stabilization tracking for path, prompted by
// an add or change event of kind origKind. If a PendingWrite already exists
// for path, this only refreshes lastChange — it never starts a second poll
// chain (spec.md §4.5: "a new change arrives for a path already pending").
func (m *StabilizationMonitor) Track(origKind Kind, path string) {
	m.mu.Lock()
	pw, exists := m.pending[path]
	if exists {
		m.mu.Unlock()
		pw.mu.Lock()
		pw.lastChange = time.Now()
		pw.mu.Unlock()
		return
	}

	pw = &pendingWrite{lastChange: time.Now(), origKind: origKind}
	m.pending[path] = pw
	m.mu.Unlock()

	pw.timer = time.AfterFunc(m.pollInterval, func() { m.poll(path) })
}

// Pending reports whether path currently has a PendingWrite, and if so
// refreshes its lastChange — used by the emitter (C7 step 2) to swallow
// further raw events for a path already being stabilized.
func (m *StabilizationMonitor) Pending(path string) bool {
	m.mu.Lock()
	pw, ok := m.pending[path]
	m.mu.Unlock()
	if !ok {
		return false
	}
	pw.mu.Lock()
	pw.lastChange = time.Now()
	pw.mu.Unlock()
	return true
}

func (m *StabilizationMonitor) poll(path string) {
	m.mu.Lock()
	pw, ok := m.pending[path]
	m.mu.Unlock()
	if !ok {
		return // record was cancelled; self-retire per spec.md §9
	}

	pw.mu.Lock()
	if pw.cancelled {
		pw.mu.Unlock()
		return
	}
	pw.mu.Unlock()

	stat, err := m.stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.drop(path)
			return
		}
		m.drop(path)
		if m.onError != nil {
			m.onError(path, err)
		}
		return
	}

	pw.mu.Lock()
	if !pw.haveSize || stat.Size != pw.lastSize {
		pw.lastSize = stat.Size
		pw.haveSize = true
		pw.lastChange = time.Now()
	}
	stable := time.Since(pw.lastChange) >= m.stabilityThreshold
	origKind := pw.origKind
	pw.mu.Unlock()

	if stable {
		m.drop(path)
		if m.onStable != nil {
			m.onStable(origKind, path, stat)
		}
		return
	}

	pw.mu.Lock()
	pw.timer = time.AfterFunc(m.pollInterval, func() { m.poll(path) })
	pw.mu.Unlock()
}

func (m *StabilizationMonitor) drop(path string) {
	m.mu.Lock()
	delete(m.pending, path)
	m.mu.Unlock()
}

// Cancel drops path's PendingWrite, if any, and cancels its timer, returning
// the kind of the event that started it (so the Removal Engine can
// short-circuit a removal when the cancelled kind was Add — the file never
// materialized). ok is false if there was nothing pending.
func (m *StabilizationMonitor) Cancel(path string) (kind Kind, ok bool) {
	m.mu.Lock()
	pw, exists := m.pending[path]
	if exists {
		delete(m.pending, path)
	}
	m.mu.Unlock()
	if !exists {
		return 0, false
	}

	pw.mu.Lock()
	pw.cancelled = true
	if pw.timer != nil {
		pw.timer.Stop()
	}
	kind = pw.origKind
	pw.mu.Unlock()
	return kind, true
}

// Stop cancels every outstanding poll timer — used by Engine.Close.
func (m *StabilizationMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, pw := range m.pending {
		pw.mu.Lock()
		pw.cancelled = true
		if pw.timer != nil {
			pw.timer.Stop()
		}
		pw.mu.Unlock()
		delete(m.pending, path)
	}
}
