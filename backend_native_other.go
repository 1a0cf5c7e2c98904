//go:build !linux

package fsstream

import "errors"

// errNativeUnsupported is returned by NewNativeBackend on platforms this
// tree carries no native OS-notification backend for (spec.md's backends
// are explicitly out-of-scope interface-only collaborators; this module
// ships exactly one, Linux/inotify, plus the universal polling backend).
var errNativeUnsupported = errors.New("fsstream: no native backend on this platform, use polling")

// NativeBackend is a stand-in so the Engine's backend-selection code
// compiles on every platform; NewNativeBackend always fails here.
type NativeBackend struct{}

func NewNativeBackend() (*NativeBackend, error) { return nil, errNativeUnsupported }

func (b *NativeBackend) Name() string    { return "inotify" }
func (b *NativeBackend) Recursive() bool { return false }
func (b *NativeBackend) Polling() bool   { return false }
func (b *NativeBackend) Watch(root string, h *Helpers) (Closer, error) {
	return nil, errNativeUnsupported
}
