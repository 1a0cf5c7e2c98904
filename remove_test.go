package fsstream

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestRemovalEngine(registry *Registry, stabilizer *StabilizationMonitor, recursive bool) (*RemovalEngine, *[]Event) {
	emitted := &[]Event{}
	ignore := NewIgnoreSet(false, nil, nil)
	th := NewThrottler()
	emit := func(kind Kind, path string, stat *Stat) {
		*emitted = append(*emitted, Event{Kind: kind, Path: path, Stat: stat})
	}
	re := NewRemovalEngine(registry, th, stabilizer, ignore, recursive, nil, emit)
	return re, emitted
}

func TestRemovalEngineLeafFileEmitsUnlink(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	registry.Add(dir, "a.txt")

	re, emitted := newTestRemovalEngine(registry, nil, false)
	re.Remove(dir, "a.txt")

	if len(*emitted) != 1 || (*emitted)[0].Kind != Unlink {
		t.Fatalf("expected a single Unlink event, got %+v", *emitted)
	}
	if (*emitted)[0].Path != filepath.Join(dir, "a.txt") {
		t.Errorf("unexpected path %q", (*emitted)[0].Path)
	}
}

func TestRemovalEngineSubtreeBottomUpOrder(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	registry := NewRegistry()
	registry.Add(root, "sub")
	registry.Get(sub) // registers sub as a tracked directory
	registry.Add(sub, "file.txt")

	re, emitted := newTestRemovalEngine(registry, nil, false)
	re.Remove(root, "sub")

	if len(*emitted) != 2 {
		t.Fatalf("expected 2 events (child then dir), got %+v", *emitted)
	}
	if (*emitted)[0].Kind != Unlink || (*emitted)[0].Path != filepath.Join(sub, "file.txt") {
		t.Errorf("expected first event to unlink the child file, got %+v", (*emitted)[0])
	}
	if (*emitted)[1].Kind != UnlinkDir || (*emitted)[1].Path != sub {
		t.Errorf("expected second event to unlinkDir the now-empty subdirectory, got %+v", (*emitted)[1])
	}
	if registry.IsDir(sub) {
		t.Error("expected sub to be dropped from the registry")
	}
}

func TestRemovalEnginePropagatesToGoneParent(t *testing.T) {
	grandparent := t.TempDir()
	ghost := filepath.Join(grandparent, "ghost") // never actually created on disk
	registry := NewRegistry()
	registry.Add(grandparent, "ghost")
	registry.Get(ghost)
	registry.Add(ghost, "leaf.txt")

	re, emitted := newTestRemovalEngine(registry, nil, false)
	re.Remove(ghost, "leaf.txt")

	if len(*emitted) != 2 {
		t.Fatalf("expected the leaf removal to propagate into removing the ghost dir too, got %+v", *emitted)
	}
	if (*emitted)[0].Kind != Unlink || (*emitted)[0].Path != filepath.Join(ghost, "leaf.txt") {
		t.Errorf("unexpected first event %+v", (*emitted)[0])
	}
	if (*emitted)[1].Kind != UnlinkDir || (*emitted)[1].Path != ghost {
		t.Errorf("expected propagation to unlinkDir the ghost directory, got %+v", (*emitted)[1])
	}
	if registry.IsDir(ghost) {
		t.Error("expected the ghost directory entry to be dropped")
	}
	if registry.Has(grandparent, "ghost") {
		t.Error("expected grandparent to no longer track ghost as a child")
	}
}

func TestRemovalEngineIgnoredPathEmitsNothing(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	registry.Add(dir, "secret.txt")

	emitted := &[]Event{}
	ignore := NewIgnoreSet(false, []string{filepath.Join(dir, "secret.txt")}, nil)
	th := NewThrottler()
	emit := func(kind Kind, path string, stat *Stat) {
		*emitted = append(*emitted, Event{Kind: kind, Path: path})
	}
	re := NewRemovalEngine(registry, th, nil, ignore, false, nil, emit)
	re.Remove(dir, "secret.txt")

	if len(*emitted) != 0 {
		t.Errorf("expected no events for an ignored path, got %+v", *emitted)
	}
}

func TestRemovalEngineCancelledAddSuppressesUnlink(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	registry.Add(dir, "new.txt")

	path := filepath.Join(dir, "new.txt")
	stabilizer := NewStabilizationMonitor(time.Second, time.Second, func(string) (*Stat, error) { return &Stat{}, nil },
		func(Kind, string, *Stat) {}, func(string, error) {})
	stabilizer.Track(Add, path)
	defer stabilizer.Stop()

	re, emitted := newTestRemovalEngine(registry, stabilizer, false)
	re.Remove(dir, "new.txt")

	if len(*emitted) != 0 {
		t.Errorf("expected the removal of a file that never finished its Add to emit nothing, got %+v", *emitted)
	}
}
