package capsule

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DirArchive is an exploded-directory container. Entries are discovered by
// a full recursive walk in filesystem traversal order.
type DirArchive struct {
	root string

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

var _ Archive = (*DirArchive)(nil)

// NewDirArchive wraps the directory at root.
func NewDirArchive(root string) (*DirArchive, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("capsule: resolve directory %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("capsule: open directory container: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capsule: %q is not a directory", abs)
	}
	return &DirArchive{root: abs}, nil
}

// Location returns the directory's absolute path.
func (a *DirArchive) Location() string {
	return a.root
}

// Manifest reads the conventional manifest path once, lazily. Absence
// yields (nil, nil).
func (a *DirArchive) Manifest() (*Manifest, error) {
	a.manifestOnce.Do(func() {
		a.manifest, a.manifestErr = readManifest(a)
	})
	return a.manifest, a.manifestErr
}

// Err reports nothing: a directory container defers no construction work.
func (a *DirArchive) Err() error {
	return nil
}

// Entries walks the directory tree. Directory entries carry a trailing
// slash; the root itself is not yielded.
func (a *DirArchive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		_ = filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || path == a.root {
				return err
			}
			rel, err := filepath.Rel(a.root, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			entry := Entry{Name: name, Dir: d.IsDir()}
			if entry.Dir {
				entry.Name += "/"
			} else if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
				entry.CompressedSize = info.Size()
				entry.Modified = info.ModTime()
			}
			if !yield(entry) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

// Nested resolves each filter-matched entry to its own container, in walk
// order: a matched directory becomes a DirArchive of that subtree, a
// matched file is opened as an indexed-file container.
func (a *DirArchive) Nested(filter EntryFilter) ([]Archive, error) {
	var out []Archive
	for entry := range a.Entries() {
		if filter == nil || !filter(entry) {
			continue
		}
		path := filepath.Join(a.root, filepath.FromSlash(strings.TrimSuffix(entry.Name, "/")))
		var (
			child Archive
			err   error
		)
		if entry.Dir {
			child, err = NewDirArchive(path)
		} else {
			child, err = OpenFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %w", ErrClasspath, entry.Name, err)
		}
		out = append(out, child)
	}
	return out, nil
}

// Open opens the named entry relative to the directory root.
func (a *DirArchive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return os.Open(filepath.Join(a.root, filepath.FromSlash(name)))
}
