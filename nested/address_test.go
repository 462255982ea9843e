package nested

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		root     string
		segments []string
	}{
		{"capsule:/opt/app.cap", "/opt/app.cap", nil},
		{"/opt/app.cap!/app/lib/dep.zip", "/opt/app.cap", []string{"app/lib/dep.zip"}},
		{
			"capsule:/opt/app.cap!/app/lib/dep.zip!/pkg/data.bin",
			"/opt/app.cap",
			[]string{"app/lib/dep.zip", "pkg/data.bin"},
		},
	}
	for _, tt := range tests {
		addr, err := ParseAddress(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.root, addr.Root)
		assert.Equal(t, tt.segments, addr.Segments)
	}
}

func TestParseAddressRejectsEmptyParts(t *testing.T) {
	t.Parallel()

	_, err := ParseAddress("capsule:")
	require.Error(t, err)

	_, err = ParseAddress("capsule:/opt/app.cap!/!/x")
	require.Error(t, err)
}

func TestAddressRoundTrip(t *testing.T) {
	t.Parallel()

	raw := "capsule:/opt/app.cap!/app/lib/dep.zip!/pkg/data.bin"
	addr, err := ParseAddress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, addr.String())

	again, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}
