package fsstream

import (
	"sync"
	"time"

	"github.com/fsstream/fsstream/internal/pollfs"
)

// PollBackend is the universal stat/readdir-polling Backend (spec.md
// §4.9): it works on every platform and every filesystem (including network
// mounts where OS-level notification is unreliable or absent), at the cost
// of bounded latency equal to its interval. It is selected on
// Config.UsePolling once the recursive backend is disabled or unavailable
// (the recursive backend wins whenever it can be opened), and is the default
// backend on macOS in this tree, which carries no native kqueue/FSEvents
// backend (see SPEC_FULL.md's backend scope note).
type PollBackend struct {
	interval time.Duration
}

// NewPollBackend constructs a polling backend with the given tick interval.
func NewPollBackend(interval time.Duration) *PollBackend {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &PollBackend{interval: interval}
}

func (b *PollBackend) Name() string      { return "poll" }
func (b *PollBackend) Recursive() bool   { return false }
func (b *PollBackend) Polling() bool     { return true }

// Watch starts a ticking goroutine over root and returns a Closer that
// stops it.
func (b *PollBackend) Watch(root string, h *Helpers) (Closer, error) {
	snap, err := pollfs.List(root)
	if err != nil {
		return nil, err
	}

	for name, entry := range snap {
		path := pollfs.Join(root, name)
		if h.Filter != nil && h.Filter(path, entry.IsDir) {
			continue
		}
		h.OnChild(root, name, entry.IsDir)
		if h.OnInitialEntry != nil {
			h.OnInitialEntry(root, name, entry.IsDir)
		}
	}
	if h.OnScanComplete != nil {
		h.OnScanComplete()
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(b.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.tick(root, h, &snap)
			}
		}
	}()

	var once sync.Once
	return func() error {
		once.Do(func() { close(stop) })
		return nil
	}, nil
}

func (b *PollBackend) tick(root string, h *Helpers, snap *map[string]pollfs.Entry) {
	next, err := pollfs.List(root)
	if err != nil {
		if h.OnError != nil {
			h.OnError(err)
		}
		return
	}

	created, removed, changed := pollfs.Diff(*snap, next)
	*snap = next

	for _, name := range removed {
		path := pollfs.Join(root, name)
		// We no longer have the old entry's IsDir at this point (it is
		// gone from the new snapshot); the Removal Engine resolves
		// file-vs-directory from the Registry, not from this event.
		if h.Filter != nil && h.Filter(path, false) {
			continue
		}
		h.OnEvent(Unlink, path, nil)
	}
	for _, name := range created {
		entry := next[name]
		path := pollfs.Join(root, name)
		if h.Filter != nil && h.Filter(path, entry.IsDir) {
			continue
		}
		h.OnChild(root, name, entry.IsDir)
		if entry.IsDir {
			h.OnEvent(AddDir, path, nil)
		} else {
			h.OnEvent(Add, path, &Stat{Size: entry.Size, Mode: uint32(entry.Mode), IsDir: false})
		}
	}
	for _, name := range changed {
		entry := next[name]
		if entry.IsDir {
			continue // directory mtime churn carries no file-content meaning
		}
		path := pollfs.Join(root, name)
		if h.Filter != nil && h.Filter(path, false) {
			continue
		}
		h.OnEvent(Change, path, &Stat{Size: entry.Size, Mode: uint32(entry.Mode), IsDir: false})
	}
}
