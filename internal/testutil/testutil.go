// Package testutil builds container fixtures for tests. Fixtures are
// authored with the stdlib zip writer; the production parser never touches
// it.
package testutil

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
)

// FileSpec describes one entry of a built container.
type FileSpec struct {
	Name  string
	Data  []byte
	Store bool // store uncompressed; required for nestable entries
}

// BuildContainer writes a container holding the given entries in order.
// Names ending in "/" become directory entries.
func BuildContainer(t *testing.T, files []FileSpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		header := &zip.FileHeader{Name: f.Name, Method: zip.Deflate}
		if f.Store || len(f.Name) > 0 && f.Name[len(f.Name)-1] == '/' {
			header.Method = zip.Store
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatalf("create entry %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("write entry %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close container: %v", err)
	}
	return buf.Bytes()
}

// Manifest renders attribute lines into manifest bytes.
func Manifest(lines ...string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// PrependStub returns the container preceded by n filler bytes, simulating
// a self-launching executable stub.
func PrependStub(container []byte, n int) []byte {
	stub := make([]byte, n)
	for i := range stub {
		stub[i] = byte(i*7 + 13)
	}
	return append(stub, container...)
}

// WriteContainer writes container bytes to a file under dir and returns
// the path.
func WriteContainer(t *testing.T, dir, name string, container []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, container, 0o644); err != nil {
		t.Fatalf("write container: %v", err)
	}
	return path
}

// Source is an in-memory byte source with a content-derived identity.
type Source struct {
	data []byte
	id   string

	// Reads counts ReadAt calls, for observing how often an index is
	// built.
	Reads atomic.Int64
}

// NewSource returns a byte source backed by data.
func NewSource(data []byte) *Source {
	return &Source{data: data, id: digest.FromBytes(data).String()}
}

// ReadAt implements io.ReaderAt over the backing slice.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.Reads.Add(1)
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (s *Source) Size() int64 {
	return int64(len(s.data))
}

// SourceID returns the content-derived identity.
func (s *Source) SourceID() string {
	return s.id
}
