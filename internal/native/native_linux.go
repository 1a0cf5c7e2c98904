//go:build linux

// Package native wraps the raw inotify(7) syscalls used by the per-directory
// backend on Linux. It knows nothing about the normalization engine above
// it — it only turns inotify_add_watch/inotify_rm_watch/read() into Go
// values, the way the teacher's internal package isolates platform syscall
// detail from the fsnotify package proper.
package native

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RawEvent is one inotify event translated into Go types. Read resolves its
// watch descriptor to the directory passed to AddDir and stores it in Dir,
// which is empty when the descriptor is no longer registered.
type RawEvent struct {
	Wd     uint32
	Dir    string // the watched directory this event was reported against
	Mask   uint32
	Name   string // empty unless the event carries a child name
	Cookie uint32
}

const (
	MaskCreate     = unix.IN_CREATE
	MaskDelete     = unix.IN_DELETE
	MaskDeleteSelf = unix.IN_DELETE_SELF
	MaskModify     = unix.IN_MODIFY
	MaskAttrib     = unix.IN_ATTRIB
	MaskMovedFrom  = unix.IN_MOVED_FROM
	MaskMovedTo    = unix.IN_MOVED_TO
	MaskMoveSelf   = unix.IN_MOVE_SELF
	MaskIsDir      = unix.IN_ISDIR
	MaskIgnored    = unix.IN_IGNORED
	MaskOverflow   = unix.IN_Q_OVERFLOW
)

const watchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
	unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
	unix.IN_MOVE_SELF

// Watcher is a single inotify instance multiplexing any number of directory
// watches, mirroring the teacher's one-fd-many-watch-descriptors design.
type Watcher struct {
	fd   int
	file *os.File

	mu   sync.RWMutex
	byWd map[uint32]string
	byPath map[string]uint32

	closed bool
}

// New opens a fresh inotify instance.
func New() (*Watcher, error) {
	fd, errno := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if fd == -1 {
		return nil, errno
	}
	return &Watcher{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), ""),
		byWd:   make(map[uint32]string),
		byPath: make(map[string]uint32),
	}, nil
}

// AddDir registers path (a single directory, non-recursively) and returns
// its watch descriptor.
func (w *Watcher) AddDir(path string) (uint32, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, watchMask)
	if wd == -1 {
		return 0, err
	}
	w.mu.Lock()
	w.byWd[uint32(wd)] = path
	w.byPath[path] = uint32(wd)
	w.mu.Unlock()
	return uint32(wd), nil
}

// RemoveDir unregisters path, if it is currently watched.
func (w *Watcher) RemoveDir(path string) error {
	w.mu.Lock()
	wd, ok := w.byPath[path]
	if ok {
		delete(w.byPath, path)
		delete(w.byWd, wd)
	}
	w.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := unix.InotifyRmWatch(w.fd, wd)
	return err
}

// PathOf resolves a watch descriptor back to the directory path passed to
// AddDir, or "" if it is unknown (already removed, or an inotify-internal
// wd we never registered).
func (w *Watcher) PathOf(wd uint32) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.byWd[wd]
}

// forgetWd drops bookkeeping for a watch descriptor inotify invalidated on
// its own (IN_DELETE_SELF, IN_IGNORED).
func (w *Watcher) forgetWd(wd uint32) {
	w.mu.Lock()
	if path, ok := w.byWd[wd]; ok {
		delete(w.byWd, wd)
		delete(w.byPath, path)
	}
	w.mu.Unlock()
}

// Close shuts down the inotify file descriptor; any blocked Read returns an
// error.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.file.Close()
}

var errShortRead = errors.New("native: short read from inotify fd")

// Read blocks until at least one inotify event is available and returns the
// first one in the kernel buffer, buffering any remainder for the next call.
// It is safe to call Read from a single dedicated goroutine only.
func (w *Watcher) Read(buf []byte, pending *[]RawEvent) (RawEvent, error) {
	for len(*pending) == 0 {
		n, err := w.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return RawEvent{}, err
			}
			return RawEvent{}, err
		}
		if n < unix.SizeofInotifyEvent {
			if n == 0 {
				return RawEvent{}, errShortRead
			}
			return RawEvent{}, fmt.Errorf("native: %w", errShortRead)
		}

		var offset uint32
		for offset <= uint32(n-unix.SizeofInotifyEvent) {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			mask := uint32(raw.Mask)
			nameLen := uint32(raw.Len)

			var name string
			if nameLen > 0 {
				nameBytes := (*[unix.PathMax]byte)(unsafe.Pointer(&buf[offset+unix.SizeofInotifyEvent]))[:nameLen:nameLen]
				name = strings.TrimRight(string(nameBytes), "\x00")
			}

			w.mu.RLock()
			dir := w.byWd[uint32(raw.Wd)]
			w.mu.RUnlock()

			ev := RawEvent{Wd: uint32(raw.Wd), Dir: dir, Mask: mask, Name: name, Cookie: raw.Cookie}
			if mask&unix.IN_DELETE_SELF != 0 || mask&unix.IN_IGNORED != 0 {
				w.forgetWd(ev.Wd)
			}
			*pending = append(*pending, ev)

			offset += unix.SizeofInotifyEvent + nameLen
		}
	}

	ev := (*pending)[0]
	*pending = (*pending)[1:]
	return ev, nil
}
