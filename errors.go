package fsstream

import "errors"

var (
	// ErrClosed is returned by operations attempted on a closed Engine.
	ErrClosed = errors.New("fsstream: engine closed")
	// ErrNonExistentWatch is returned by Unwatch for a path that was never
	// added.
	ErrNonExistentWatch = errors.New("fsstream: path is not watched")
	// ErrInvalidPath is the programmer error returned synchronously from Add
	// when given an empty path (spec.md §7 "programmer errors").
	ErrInvalidPath = errors.New("fsstream: path must be a non-empty string")
)
