package capsule

import (
	"fmt"
	"io/fs"
	"iter"
	"strings"
	"sync"
)

// PrefixArchive is a zero-copy view of one directory entry inside an
// indexed-file container, typically the classes root. It shares the
// parent's index and backing bytes; entry names are rebased onto the
// prefix.
type PrefixArchive struct {
	parent *FileArchive
	prefix string

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

var _ Archive = (*PrefixArchive)(nil)

// Location chains the parent's location with the viewed prefix.
func (a *PrefixArchive) Location() string {
	return a.parent.location + "!/" + a.prefix
}

// Manifest reads the conventional manifest path inside the view. Absence
// yields (nil, nil).
func (a *PrefixArchive) Manifest() (*Manifest, error) {
	a.manifestOnce.Do(func() {
		a.manifest, a.manifestErr = readManifest(a)
	})
	return a.manifest, a.manifestErr
}

// Err reports the parent's deferred index failure; the view has no index
// of its own.
func (a *PrefixArchive) Err() error {
	return a.parent.Err()
}

// Entries iterates the parent's entries under the prefix, rebased, in the
// parent's physical order.
func (a *PrefixArchive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for entry := range a.parent.Entries() {
			name, ok := strings.CutPrefix(entry.Name, a.prefix)
			if !ok || name == "" {
				continue
			}
			entry.Name = name
			if !yield(entry) {
				return
			}
		}
	}
}

// Nested resolves filter-matched entries within the view: a matched
// directory narrows the view further, a matched file slices the shared
// backing bytes.
func (a *PrefixArchive) Nested(filter EntryFilter) ([]Archive, error) {
	if err := a.parent.ensure(); err != nil {
		return nil, err
	}
	var out []Archive
	for entry := range a.Entries() {
		if filter == nil || !filter(entry) {
			continue
		}
		if entry.Dir {
			out = append(out, &PrefixArchive{parent: a.parent, prefix: a.prefix + entry.Name})
			continue
		}
		handle, err := a.parent.Handle(a.prefix + entry.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %w", ErrClasspath, entry.Name, err)
		}
		out = append(out, handle.Archive())
	}
	return out, nil
}

// Open streams the named entry, rebased onto the prefix.
func (a *PrefixArchive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return a.parent.Open(a.prefix + name)
}
