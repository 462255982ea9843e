package capsule

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulekit/capsule/internal/testutil"
)

// buildTree writes files (slash-separated relative paths) under a temp dir.
func buildTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return root
}

func TestDirArchiveEntries(t *testing.T) {
	t.Parallel()

	root := buildTree(t, map[string][]byte{
		"app/classes/main.bin": []byte("main"),
		"app/lib/dep.zip":      []byte("zipdata"),
		"meta/manifest":        []byte("Entry-Point: demo\n"),
	})
	a, err := NewDirArchive(root)
	require.NoError(t, err)
	assert.Equal(t, root, a.Location())

	var names []string
	for entry := range a.Entries() {
		names = append(names, entry.Name)
	}
	assert.Contains(t, names, "app/")
	assert.Contains(t, names, "app/classes/")
	assert.Contains(t, names, "app/classes/main.bin")
	assert.Contains(t, names, "app/lib/dep.zip")

	// Directory entries carry the trailing slash, files carry sizes.
	for entry := range a.Entries() {
		if strings.HasSuffix(entry.Name, "/") {
			assert.True(t, entry.Dir)
		} else {
			assert.False(t, entry.Dir)
			assert.Positive(t, entry.Size)
		}
	}
}

func TestDirArchiveManifest(t *testing.T) {
	t.Parallel()

	root := buildTree(t, map[string][]byte{
		"meta/manifest": []byte("Entry-Point: demo.app\n"),
	})
	a, err := NewDirArchive(root)
	require.NoError(t, err)

	m, err := a.Manifest()
	require.NoError(t, err)
	require.NotNil(t, m)
	v, _ := m.Get("Entry-Point")
	assert.Equal(t, "demo.app", v)
}

func TestDirArchiveManifestAbsentIsNotAnError(t *testing.T) {
	t.Parallel()

	a, err := NewDirArchive(t.TempDir())
	require.NoError(t, err)

	m, err := a.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestDirArchiveNested(t *testing.T) {
	t.Parallel()

	dep := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "pkg/dep.bin", Data: []byte("dep bytes")},
	})
	root := buildTree(t, map[string][]byte{
		"app/classes/main.bin": []byte("main"),
		"app/lib/dep.zip":      dep,
	})

	a, err := NewDirArchive(root)
	require.NoError(t, err)

	children, err := a.Nested(func(e Entry) bool {
		if e.Dir {
			return e.Name == "app/classes/"
		}
		return strings.HasPrefix(e.Name, "app/lib/")
	})
	require.NoError(t, err)
	require.Len(t, children, 2)

	// Classes root resolves as a directory view.
	f, err := children[0].Open("main.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, []byte("main"), data)

	// The library file resolves as an indexed container.
	f, err = children[1].Open("pkg/dep.bin")
	require.NoError(t, err)
	data, err = io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, []byte("dep bytes"), data)
}

func TestDirArchiveRejectsFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := NewDirArchive(path)
	require.Error(t, err)
}
