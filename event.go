package fsstream

import "fmt"

// Kind identifies the semantic class of a normalized filesystem event.
type Kind uint8

const (
	// Add indicates a file appeared.
	Add Kind = iota
	// AddDir indicates a directory appeared.
	AddDir
	// Change indicates a file's contents or metadata changed.
	Change
	// Unlink indicates a file was removed.
	Unlink
	// UnlinkDir indicates a directory was removed.
	UnlinkDir
	// Ready is emitted exactly once, after every root passed to the initial
	// Add has completed its initial scan.
	Ready
	// Error carries a non-fatal-to-the-watcher failure for a specific
	// operation; it is never fanned out to the All channel.
	Error
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case AddDir:
		return "addDir"
	case Change:
		return "change"
	case Unlink:
		return "unlink"
	case UnlinkDir:
		return "unlinkDir"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event is a single normalized notification dispatched to subscribers.
//
// Path is relative to the configured working directory (Config.Cwd) when one
// is set, otherwise absolute. Stat is non-nil only when AlwaysStat is
// configured, or when the emitting component already had one in hand (e.g.
// the write-stabilization monitor always attaches the final stat).
type Event struct {
	Kind Kind
	Path string
	Stat *Stat
	Err  error
}

// Stat is the subset of os.FileInfo the core cares about; kept as a
// concrete, comparable-ish value rather than the os.FileInfo interface so
// events can be constructed by backends that don't have a live os.FileInfo
// (e.g. a synthetic stat after a poll).
type Stat struct {
	Size  int64
	Mode  uint32
	IsDir bool
}

func (e Event) String() string {
	if e.Kind == Error {
		return fmt.Sprintf("error: %s", e.Err)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Path)
}

// Handler receives normalized events for a specific Kind, or for every Kind
// except Error when subscribed via (*Engine).OnAll.
type Handler func(Event)
