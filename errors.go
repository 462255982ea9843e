package capsule

import (
	"errors"
	"io/fs"

	"github.com/capsulekit/capsule/internal/zipindex"
)

// Sentinel errors for the container layer. All are fatal where raised;
// nothing in this module retries.
var (
	// ErrFormat reports a corrupt or unreadable container: a truncated or
	// missing end-of-index trailer at construction, a corrupt per-entry
	// header or unsupported compression method when an entry is read.
	ErrFormat = zipindex.ErrFormat

	// ErrManifest reports a missing manifest or a missing required
	// attribute, raised by callers that need one.
	ErrManifest = errors.New("capsule: manifest missing or invalid")

	// ErrClasspath reports a filter-matched entry that cannot be opened as
	// a container.
	ErrClasspath = errors.New("capsule: entry cannot be opened as a container")
)

// isNotExist reports whether err means the named entry is absent, as
// opposed to unreadable.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
