package capsule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest(strings.NewReader(
		"Entry-Point: demo.app\r\n" +
			"Build-Tool: capsule\n" +
			"\n" +
			"Description: a self-contained\n" +
			" application archive\n",
	))
	require.NoError(t, err)

	v, ok := m.Get("Entry-Point")
	require.True(t, ok)
	assert.Equal(t, "demo.app", v)

	// Lookup is case-insensitive.
	v, ok = m.Get("entry-point")
	require.True(t, ok)
	assert.Equal(t, "demo.app", v)

	v, ok = m.Get("Description")
	require.True(t, ok)
	assert.Equal(t, "a self-containedapplication archive", v)

	assert.Equal(t, []string{"Entry-Point", "Build-Tool", "Description"}, m.Keys())

	_, ok = m.Get("Absent")
	assert.False(t, ok)
}

func TestParseManifestMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParseManifest(strings.NewReader("no separator here\n"))
	require.ErrorIs(t, err, ErrManifest)

	_, err = ParseManifest(strings.NewReader(" leading continuation\n"))
	require.ErrorIs(t, err, ErrManifest)
}

func TestParseManifestRejectsOversizedLine(t *testing.T) {
	t.Parallel()

	line := "Payload: " + strings.Repeat("x", maxManifestLine+1) + "\n"
	_, err := ParseManifest(strings.NewReader(line))
	require.ErrorIs(t, err, ErrManifest)
}

func TestParseManifestEmpty(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest(strings.NewReader(""))
	require.NoError(t, err)
	_, ok := m.Get("anything")
	assert.False(t, ok)
}
