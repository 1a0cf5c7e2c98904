// Package pollfs implements the directory-snapshot diffing the polling
// backend is built on, adapted from the teacher's AIX polling backend
// (polling.go), which is itself credited there to radovskyb/watcher: list a
// directory's entries, remember them, and on each tick diff the new listing
// against the last one to discover creates, removes, and writes.
package pollfs

import (
	"os"
	"path/filepath"
	"time"
)

// Entry is the subset of file metadata the diff needs to decide what
// changed.
type Entry struct {
	IsDir   bool
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// List reads dir's immediate children into a name->Entry snapshot. It does
// not recurse; the caller (the polling Backend) is only ever asked to watch
// one directory at a time, matching every other backend in this tree.
func List(dir string) (map[string]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // vanished between ReadDir and Info; next tick will show it as removed
		}
		out[e.Name()] = Entry{IsDir: info.IsDir(), Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()}
	}
	return out, nil
}

// Diff compares an old and new snapshot of the same directory and reports
// which basenames were created, removed, or changed (size, mtime, or mode
// differs). changed never includes a name that is also in created or
// removed.
func Diff(old, new map[string]Entry) (created, removed, changed []string) {
	for name := range old {
		if _, ok := new[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, n := range new {
		o, ok := old[name]
		if !ok {
			created = append(created, name)
			continue
		}
		if o.ModTime != n.ModTime || o.Size != n.Size || o.Mode != n.Mode {
			changed = append(changed, name)
		}
	}
	return created, removed, changed
}

// Join is a small convenience wrapper kept here so callers needn't import
// path/filepath solely for this.
func Join(dir, name string) string { return filepath.Join(dir, name) }
