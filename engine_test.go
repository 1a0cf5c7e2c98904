package fsstream

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder is a small concurrency-safe sink for subscribed events, used
// across the end-to-end scenarios below instead of re-deriving the same
// mutex/slice boilerplate in every test.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitForReady(t *testing.T, ready chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(within):
		t.Fatal("timed out waiting for Ready")
	}
}

func waitUntil(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true within the deadline")
}

func TestEngineAddEmitsInitialScanThenReady(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre-existing.txt"), []byte("hi"), 0644))

	eng, err := New(WithUsePolling(true), WithUseFsEvents(false), WithInterval(15*time.Millisecond))
	require.NoError(t, err)
	defer eng.Close()

	rec := &eventRecorder{}
	ready := make(chan struct{})
	eng.OnAll(rec.record)
	eng.On(Ready, func(Event) { close(ready) })

	require.NoError(t, eng.Add(dir))
	waitForReady(t, ready, 2*time.Second)

	found := false
	for _, e := range rec.snapshot() {
		if e.Kind == Add && filepath.Base(e.Path) == "pre-existing.txt" {
			found = true
		}
	}
	assert.True(t, found, "expected the pre-existing file to be reported as Add during the initial scan")
}

func TestEngineIgnoreInitialSuppressesScanEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre-existing.txt"), []byte("hi"), 0644))

	eng, err := New(WithUsePolling(true), WithUseFsEvents(false), WithInterval(15*time.Millisecond), WithIgnoreInitial(true))
	require.NoError(t, err)
	defer eng.Close()

	rec := &eventRecorder{}
	ready := make(chan struct{})
	eng.OnAll(rec.record)
	eng.On(Ready, func(Event) { close(ready) })

	require.NoError(t, eng.Add(dir))
	waitForReady(t, ready, 2*time.Second)

	for _, e := range rec.snapshot() {
		assert.NotEqual(t, Add, e.Kind, "expected no Add events with IgnoreInitial")
	}
}

func TestEngineAtomicSaveFusesUnlinkAddIntoChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	eng, err := New(
		WithUsePolling(true), WithUseFsEvents(false),
		WithInterval(15*time.Millisecond),
		WithAtomic(true, 400*time.Millisecond),
	)
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(dir))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	// Simulate an editor's atomic save: unlink the original, then recreate
	// it shortly after — within the atomic window but on a later poll tick.
	require.NoError(t, os.Remove(path))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(150 * time.Millisecond) // let any stray duplicate settle

	events := rec.snapshot()
	var sawUnlink, sawChange bool
	for _, e := range events {
		switch e.Kind {
		case Unlink:
			sawUnlink = true
		case Change:
			sawChange = true
		}
	}
	assert.False(t, sawUnlink, "expected the unlink to be reconciled away: %+v", events)
	assert.True(t, sawChange, "expected the fused unlink+add to surface as a Change: %+v", events)
}

func TestEngineWriteStabilizationHoldsUntilSizeSettles(t *testing.T) {
	dir := t.TempDir()

	eng, err := New(
		WithUsePolling(true), WithUseFsEvents(false),
		WithInterval(15*time.Millisecond),
		WithAwaitWriteFinish(120*time.Millisecond, 20*time.Millisecond),
	)
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(dir))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	content := []byte("final contents, not growing anymore")
	path := filepath.Join(dir, "settle.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	// Before the stability threshold elapses, nothing should be released.
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "expected no event before the stability threshold elapsed")

	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) > 0 })

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, Add, events[0].Kind)
	require.NotNil(t, events[0].Stat)
	assert.Equal(t, int64(len(content)), events[0].Stat.Size, "expected the final stat to carry the settled size")
}

func TestEngineGlobAddOnlyMatchesPattern(t *testing.T) {
	dir := t.TempDir()

	eng, err := New(WithUsePolling(true), WithUseFsEvents(false), WithInterval(15*time.Millisecond), WithIgnoreInitial(true))
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(filepath.Join(dir, "*.log")))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(100 * time.Millisecond)

	for _, e := range rec.snapshot() {
		assert.NotEqual(t, "notes.txt", filepath.Base(e.Path), "expected notes.txt to be filtered out by the *.log glob")
	}
}

func TestEngineNegationExcludesSubpath(t *testing.T) {
	dir := t.TempDir()
	skip := filepath.Join(dir, "skip")
	require.NoError(t, os.Mkdir(skip, 0755))

	eng, err := New(WithIgnoreInitial(true))
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(dir, "!"+skip))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	require.NoError(t, os.WriteFile(filepath.Join(skip, "ignored.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("x"), 0644))

	waitUntil(t, 2*time.Second, func() bool {
		for _, e := range rec.snapshot() {
			if filepath.Base(e.Path) == "kept.txt" {
				return true
			}
		}
		return false
	})
	time.Sleep(100 * time.Millisecond)

	for _, e := range rec.snapshot() {
		assert.NotEqual(t, "ignored.txt", filepath.Base(e.Path), "expected no events under the negated /skip subpath")
	}
}

func TestEngineRecursiveRemovalEmitsBottomUp(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	leaf := filepath.Join(sub, "leaf.txt")
	require.NoError(t, os.WriteFile(leaf, []byte("x"), 0644))

	eng, err := New(WithIgnoreInitial(true))
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(dir))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	require.NoError(t, os.RemoveAll(sub))

	waitUntil(t, 2*time.Second, func() bool {
		for _, e := range rec.snapshot() {
			if e.Kind == UnlinkDir && filepath.Base(e.Path) == "sub" {
				return true
			}
		}
		return false
	})

	events := rec.snapshot()
	leafIdx, dirIdx := -1, -1
	for i, e := range events {
		if e.Kind == Unlink && filepath.Base(e.Path) == "leaf.txt" {
			leafIdx = i
		}
		if e.Kind == UnlinkDir && filepath.Base(e.Path) == "sub" {
			dirIdx = i
		}
	}
	require.NotEqual(t, -1, leafIdx, "expected an Unlink for leaf.txt: %+v", events)
	require.NotEqual(t, -1, dirIdx, "expected an UnlinkDir for sub: %+v", events)
	assert.Less(t, leafIdx, dirIdx, "expected the leaf's Unlink to precede the directory's UnlinkDir")
}

func TestEngineAtomicSaveReconciliationRespectsCwd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	// WithCwd makes every reported path relative, which is exactly the
	// configuration that exposed the unlink/add key mismatch: the
	// reconciler must fuse the pair even though Emit relativizes paths.
	eng, err := New(
		WithUsePolling(true), WithUseFsEvents(false),
		WithInterval(15*time.Millisecond),
		WithAtomic(true, 400*time.Millisecond),
		WithCwd(dir),
	)
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add("."))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	require.NoError(t, os.Remove(path))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	waitUntil(t, 2*time.Second, func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(150 * time.Millisecond)

	events := rec.snapshot()
	var sawUnlink, sawChange bool
	for _, e := range events {
		switch e.Kind {
		case Unlink:
			sawUnlink = true
		case Change:
			sawChange = true
			assert.Equal(t, "doc.txt", e.Path, "expected the fused Change to carry the cwd-relative path")
		}
	}
	assert.False(t, sawUnlink, "expected the unlink to be reconciled away under a relative cwd: %+v", events)
	assert.True(t, sawChange, "expected the fused unlink+add to surface as a Change under a relative cwd: %+v", events)
}

func TestEngineRecursiveGlobWatchesNewSubdirectory(t *testing.T) {
	dir := t.TempDir()

	eng, err := New(WithIgnoreInitial(true))
	require.NoError(t, err)
	defer eng.Close()

	ready := make(chan struct{})
	eng.On(Ready, func(Event) { close(ready) })
	require.NoError(t, eng.Add(filepath.Join(dir, "**", "*.log")))
	waitForReady(t, ready, 2*time.Second)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)

	sub := filepath.Join(dir, "newsub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("x"), 0644))

	waitUntil(t, 2*time.Second, func() bool {
		for _, e := range rec.snapshot() {
			if filepath.Base(e.Path) == "deep.log" {
				return true
			}
		}
		return false
	})
	time.Sleep(100 * time.Millisecond)

	for _, e := range rec.snapshot() {
		assert.NotEqual(t, "deep.txt", filepath.Base(e.Path), "expected deep.txt under the new subdirectory to be filtered out by the *.log glob")
	}
}

func TestEngineCloseStopsDeliveringEvents(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(WithUsePolling(true), WithUseFsEvents(false), WithInterval(15*time.Millisecond), WithIgnoreInitial(true))
	require.NoError(t, err)

	rec := &eventRecorder{}
	eng.OnAll(rec.record)
	require.NoError(t, eng.Add(dir))
	time.Sleep(50 * time.Millisecond)
	beforeClose := len(rec.snapshot()) // Ready reaches OnAll subscribers too

	require.NoError(t, eng.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "after-close.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, rec.snapshot(), beforeClose, "expected no events after Close")
	assert.ErrorIs(t, eng.Add(dir), ErrClosed)
}
