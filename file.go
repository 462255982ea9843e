package capsule

import (
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/capsulekit/capsule/internal/zipindex"
)

// FileArchive is an indexed-file container. The index is built at most
// once; archives opened from a path build it at construction, archives
// produced as nested views defer it until first use.
type FileArchive struct {
	src      ByteSource
	location string
	closer   io.Closer

	indexOnce sync.Once
	index     *zipindex.Index
	indexErr  error

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

var _ Archive = (*FileArchive)(nil)

// OpenFile opens the container file at path. A truncated or missing
// end-of-index trailer fails here with ErrFormat.
func OpenFile(path string) (*FileArchive, error) {
	f, err := os.Open(path) //nolint:gosec // launching a user-provided artifact is the point
	if err != nil {
		return nil, fmt.Errorf("capsule: open container: %w", err)
	}
	src, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	location, err := filepath.Abs(path)
	if err != nil {
		location = path
	}
	a := &FileArchive{src: src, location: location, closer: f}
	if err := a.ensure(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// NewFileArchive wraps an arbitrary byte source as a container. The index
// is parsed immediately; construction fails on a malformed index.
func NewFileArchive(src ByteSource, location string) (*FileArchive, error) {
	a := &FileArchive{src: src, location: location}
	if err := a.ensure(); err != nil {
		return nil, err
	}
	return a, nil
}

// newLazyArchive wraps a byte source without touching it. The index is
// built on first need; nested containers that are never used never pay the
// parse cost.
func newLazyArchive(src ByteSource, location string) *FileArchive {
	return &FileArchive{src: src, location: location}
}

// ensure builds the index once. Concurrent first access observes a single
// build.
func (a *FileArchive) ensure() error {
	a.indexOnce.Do(func() {
		a.index, a.indexErr = zipindex.Parse(a.src, a.src.Size())
	})
	return a.indexErr
}

// Close releases the underlying file handle, when the archive owns one.
// Archives sharing a parent's backing bytes have nothing to release.
func (a *FileArchive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// Location identifies the container's origin.
func (a *FileArchive) Location() string {
	return a.location
}

// SourceID returns the stable identity of the backing bytes.
func (a *FileArchive) SourceID() string {
	return a.src.SourceID()
}

// Source exposes the backing byte source shared with nested views.
func (a *FileArchive) Source() ByteSource {
	return a.src
}

// Manifest reads the conventional manifest path once, lazily. Absence
// yields (nil, nil).
func (a *FileArchive) Manifest() (*Manifest, error) {
	a.manifestOnce.Do(func() {
		a.manifest, a.manifestErr = readManifest(a)
	})
	return a.manifest, a.manifestErr
}

// Err forces the deferred index build and reports its failure, if any.
func (a *FileArchive) Err() error {
	return a.ensure()
}

// Entries iterates the index in physical order. An archive whose index
// cannot be built yields nothing; Err (and Open, Nested) surface the
// failure.
func (a *FileArchive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if a.ensure() != nil {
			return
		}
		for rec := range a.index.Records() {
			if !yield(entryFromRecord(rec)) {
				return
			}
		}
	}
}

// Nested resolves each filter-matched entry to a child container, in index
// order. A matched directory entry becomes a zero-copy prefix view over
// this archive; a matched file entry must be stored uncompressed and
// becomes a zero-copy slice of the backing bytes, its own index deferred
// until first use.
func (a *FileArchive) Nested(filter EntryFilter) ([]Archive, error) {
	if err := a.ensure(); err != nil {
		return nil, err
	}
	var out []Archive
	for rec := range a.index.Records() {
		if filter == nil || !filter(entryFromRecord(rec)) {
			continue
		}
		if rec.Dir {
			out = append(out, &PrefixArchive{parent: a, prefix: rec.Name})
			continue
		}
		handle, err := a.handle(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %w", ErrClasspath, rec.Name, err)
		}
		out = append(out, handle.Archive())
	}
	return out, nil
}

// handle builds the zero-copy view descriptor for a stored entry.
func (a *FileArchive) handle(rec zipindex.Record) (*NestedHandle, error) {
	off, length, err := a.index.Slice(rec)
	if err != nil {
		return nil, err
	}
	return &NestedHandle{parent: a, name: rec.Name, offset: off, length: length}, nil
}

// Handle returns a zero-copy view descriptor for the named stored entry.
func (a *FileArchive) Handle(name string) (*NestedHandle, error) {
	if err := a.ensure(); err != nil {
		return nil, err
	}
	rec, ok := a.index.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "nest", Path: name, Err: fs.ErrNotExist}
	}
	return a.handle(rec)
}

// Open streams the named entry. Corrupt per-entry headers and unsupported
// compression methods fail here, at the read, with ErrFormat.
func (a *FileArchive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if err := a.ensure(); err != nil {
		return nil, err
	}
	rec, ok := a.index.Lookup(name)
	if !ok || rec.Dir {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	rc, err := a.index.OpenRecord(rec)
	if err != nil {
		return nil, err
	}
	return &entryFile{rc: rc, entry: entryFromRecord(rec)}, nil
}

// NestedHandle is a zero-copy view of a stored entry: the owning container
// identity plus the entry's byte range. Opening it treats the slice as an
// indexed-file container sharing the parent's backing bytes.
type NestedHandle struct {
	parent *FileArchive
	name   string
	offset int64
	length int64
}

// Name returns the entry name the handle addresses.
func (h *NestedHandle) Name() string {
	return h.name
}

// Archive materializes the view as a container. No bytes are copied and no
// index is parsed until the returned archive is first used.
func (h *NestedHandle) Archive() *FileArchive {
	src := &sectionSource{
		src:  h.parent.src,
		off:  h.offset,
		size: h.length,
		id:   h.parent.SourceID() + "!/" + h.name,
	}
	return newLazyArchive(src, h.parent.location+"!/"+h.name)
}

func entryFromRecord(rec zipindex.Record) Entry {
	return Entry{
		Name:           rec.Name,
		Dir:            rec.Dir,
		Size:           rec.UncompressedSize,
		CompressedSize: rec.CompressedSize,
		Method:         rec.Method,
		Modified:       rec.Modified,
	}
}

// fileSource adapts *os.File to ByteSource, caching the size and deriving
// a stable identity from path, size, and mtime.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("capsule: stat container: %w", err)
	}
	abs, err := filepath.Abs(f.Name())
	if err != nil {
		abs = f.Name()
	}
	return &fileSource{
		file:     f,
		size:     info.Size(),
		sourceID: fmt.Sprintf("file:%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.file.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }
func (s *fileSource) SourceID() string                        { return s.sourceID }

// sectionSource is a windowed view over a parent source. Reads of disjoint
// ranges through the shared parent are safe; nothing is copied.
type sectionSource struct {
	src  ByteSource
	off  int64
	size int64
	id   string
}

func (s *sectionSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	if rem := s.size - off; int64(len(p)) > rem {
		p = p[:rem]
		n, err := s.src.ReadAt(p, s.off+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.src.ReadAt(p, s.off+off)
}

func (s *sectionSource) Size() int64      { return s.size }
func (s *sectionSource) SourceID() string { return s.id }

// entryFile adapts a streamed entry read to fs.File.
type entryFile struct {
	rc    io.ReadCloser
	entry Entry
}

func (f *entryFile) Read(p []byte) (int, error) { return f.rc.Read(p) }
func (f *entryFile) Close() error               { return f.rc.Close() }
func (f *entryFile) Stat() (fs.FileInfo, error) { return entryInfo{f.entry}, nil }

// entryInfo presents an Entry as fs.FileInfo.
type entryInfo struct {
	entry Entry
}

func (i entryInfo) Name() string { return path.Base(strings.TrimSuffix(i.entry.Name, "/")) }
func (i entryInfo) Size() int64  { return i.entry.Size }
func (i entryInfo) Mode() fs.FileMode {
	if i.entry.Dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (i entryInfo) ModTime() time.Time { return i.entry.Modified }
func (i entryInfo) IsDir() bool        { return i.entry.Dir }
func (i entryInfo) Sys() any           { return nil }
