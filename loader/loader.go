// Package loader implements the bootstrap resource loader: an ordered,
// precedence-defined resolution of names across the assembled classpath.
//
// The classpath order is the law: the classes root is searched first, then
// each library container in the order it was discovered. The sequence is
// never re-sorted and never deduplicated. Anything the classpath cannot
// resolve is delegated to the parent loader supplied by the host process.
package loader

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/capsulekit/capsule"
)

// Parent resolves names that fall outside the assembled classpath. The
// host process supplies it.
type Parent interface {
	Open(name string) (fs.File, error)
}

// Loader resolves resources across an ordered classpath.
//
// Loader implements fs.FS and fs.ReadFileFS. It never writes nested
// container bytes to disk; every read streams through the container layer.
type Loader struct {
	classpath []capsule.Archive
	parent    Parent
	logger    *slog.Logger
}

var (
	_ fs.FS         = (*Loader)(nil)
	_ fs.ReadFileFS = (*Loader)(nil)
)

// Option configures a Loader.
type Option func(*Loader)

// WithParent sets the loader consulted for names the classpath cannot
// resolve.
func WithParent(p Parent) Option {
	return func(l *Loader) {
		l.parent = p
	}
}

// WithLogger attaches a logger for resolution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New builds a loader over the ordered classpath. The slice is copied; its
// order is preserved exactly.
func New(classpath []capsule.Archive, opts ...Option) *Loader {
	l := &Loader{classpath: make([]capsule.Archive, len(classpath))}
	copy(l.classpath, classpath)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// Classpath returns the loader's ordered containers.
func (l *Loader) Classpath() []capsule.Archive {
	out := make([]capsule.Archive, len(l.classpath))
	copy(out, l.classpath)
	return out
}

// Open returns the first container's match for name, scanning the
// classpath in order, then the parent. A name nothing resolves fails with
// fs.ErrNotExist.
func (l *Loader) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	for _, a := range l.classpath {
		f, err := a.Open(name)
		if err == nil {
			l.log().Debug("resolved", "name", name, "container", a.Location())
			return f, nil
		}
		if !notExist(err) {
			return nil, err
		}
	}
	if l.parent != nil {
		f, err := l.parent.Open(name)
		if err == nil {
			l.log().Debug("resolved by parent", "name", name)
		}
		return f, err
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// ReadFile reads the whole resource resolved by Open.
func (l *Loader) ReadFile(name string) ([]byte, error) {
	f, err := l.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
