package capsule

import (
	"io"
	"io/fs"
	"iter"
	"time"
)

// Entry is one named item discovered inside a container. Names are
// slash-separated; directory entries end in "/". Entries are never mutated
// after discovery.
type Entry struct {
	Name           string
	Dir            bool
	Size           int64
	CompressedSize int64
	Method         uint16
	Modified       time.Time
}

// EntryFilter decides whether an entry names a nested container. It is a
// pure strategy supplied by the caller; this layer hard-codes no directory
// conventions.
type EntryFilter func(Entry) bool

// Archive is a container of entries: either an exploded directory or an
// indexed file, immutable once constructed.
type Archive interface {
	// Location identifies the container's origin. Nested containers chain
	// their parent's location with "!/".
	Location() string

	// Manifest returns the container's parsed manifest, or (nil, nil) when
	// the conventional manifest path is absent. Absence is not an error at
	// this layer; callers that require an attribute escalate it.
	Manifest() (*Manifest, error)

	// Entries iterates the container's entries in physical order. The
	// sequence is finite and restartable. A container whose deferred index
	// build failed yields nothing; Err reports the failure.
	Entries() iter.Seq[Entry]

	// Err reports a deferred construction failure, forcing the index build
	// if it has not run yet. Iterate-then-check, in the manner of
	// bufio.Scanner.
	Err() error

	// Nested returns the child containers whose entries match filter, in
	// the order the entries occur physically. The order is a classpath
	// precedence invariant and is never re-sorted.
	Nested(filter EntryFilter) ([]Archive, error)

	// Open streams the named entry's bytes.
	Open(name string) (fs.File, error)
}

// ByteSource provides random access to a container's backing bytes.
//
// SourceID must return a stable identifier for the underlying content; the
// nested-resource resolver keys its per-container cache on it.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}
