package capsule

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ManifestPath is the conventional location of a container's manifest.
const ManifestPath = "meta/manifest"

// maxManifestLine bounds a single attribute line, continuation lines
// included.
const maxManifestLine = 1 << 20

// Manifest is the parsed key/value manifest of a container.
//
// The format is line-oriented "Key: Value" pairs. Lines beginning with a
// space continue the previous value, CRLF endings are tolerated, and key
// lookup is case-insensitive.
type Manifest struct {
	attrs map[string]string
	keys  []string
}

// ParseManifest reads a manifest from r. A line that is neither a key/value
// pair nor a continuation fails with ErrManifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{attrs: make(map[string]string)}
	var last string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxManifestLine)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
			last = ""
		case line[0] == ' ' || line[0] == '\t':
			if last == "" {
				return nil, fmt.Errorf("%w: continuation line without a preceding attribute", ErrManifest)
			}
			m.attrs[last] += strings.TrimSpace(line)
		default:
			key, value, ok := strings.Cut(line, ":")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("%w: malformed line %q", ErrManifest, line)
			}
			last = strings.ToLower(strings.TrimSpace(key))
			if _, seen := m.attrs[last]; !seen {
				m.keys = append(m.keys, strings.TrimSpace(key))
			}
			m.attrs[last] = strings.TrimSpace(value)
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: attribute line exceeds %d bytes", ErrManifest, maxManifestLine)
		}
		return nil, fmt.Errorf("capsule: read manifest: %w", err)
	}
	return m, nil
}

// Get returns the value for key, matched case-insensitively.
func (m *Manifest) Get(key string) (string, bool) {
	v, ok := m.attrs[strings.ToLower(key)]
	return v, ok
}

// Keys returns the attribute names in the order they first appeared.
func (m *Manifest) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// readManifest opens the conventional manifest path in a. Absence yields
// (nil, nil).
func readManifest(a Archive) (*Manifest, error) {
	f, err := a.Open(ManifestPath)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseManifest(f)
}
