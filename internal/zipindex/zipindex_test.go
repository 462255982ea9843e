package zipindex

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulekit/capsule/internal/testutil"
)

func parse(t *testing.T, container []byte) *Index {
	t.Helper()
	ix, err := Parse(bytes.NewReader(container), int64(len(container)))
	require.NoError(t, err)
	return ix
}

func readEntry(t *testing.T, ix *Index, name string) []byte {
	t.Helper()
	rc, err := ix.Open(name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestParseReadsStoredAndDeflatedEntries(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "a.txt", Data: []byte("alpha alpha alpha")},
		{Name: "b.bin", Data: []byte("beta"), Store: true},
		{Name: "dir/"},
		{Name: "dir/c.txt", Data: []byte("gamma")},
	})
	ix := parse(t, container)

	require.Equal(t, 4, ix.Len())
	assert.Equal(t, []byte("alpha alpha alpha"), readEntry(t, ix, "a.txt"))
	assert.Equal(t, []byte("beta"), readEntry(t, ix, "b.bin"))
	assert.Equal(t, []byte("gamma"), readEntry(t, ix, "dir/c.txt"))

	rec, ok := ix.Lookup("dir/")
	require.True(t, ok)
	assert.True(t, rec.Dir)
}

func TestRecordsPreservePhysicalOrder(t *testing.T) {
	t.Parallel()

	// Deliberately not alphabetical.
	names := []string{"z.txt", "a.txt", "m.txt"}
	var files []testutil.FileSpec
	for _, n := range names {
		files = append(files, testutil.FileSpec{Name: n, Data: []byte(n)})
	}
	ix := parse(t, testutil.BuildContainer(t, files))

	var got []string
	for rec := range ix.Records() {
		got = append(got, rec.Name)
	}
	assert.Equal(t, names, got)
}

func TestStubPrefixDoesNotChangeParse(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "x.txt", Data: []byte("payload")},
		{Name: "y.txt", Data: []byte("more"), Store: true},
	})

	for _, stubLen := range []int{0, 1, 517, 64 * 1024} {
		prefixed := testutil.PrependStub(container, stubLen)
		ix, err := Parse(bytes.NewReader(prefixed), int64(len(prefixed)))
		require.NoError(t, err, "stub length %d", stubLen)

		assert.Equal(t, int64(stubLen), ix.BaseOffset())
		assert.Equal(t, []byte("payload"), readEntry(t, ix, "x.txt"))
		assert.Equal(t, []byte("more"), readEntry(t, ix, "y.txt"))
	}
}

// asZip64 rewrites a classic container into zip64 form: every central
// directory record's sizes and header offset move into a zip64 extra field
// behind saturated markers, and the saturated classic trailer is preceded
// by a zip64 end record and its locator.
func asZip64(t *testing.T, container []byte) []byte {
	t.Helper()

	eocdPos := len(container) - endLen
	eocd := container[eocdPos:]
	require.Equal(t, uint32(endSig), binary.LittleEndian.Uint32(eocd))

	entries := binary.LittleEndian.Uint16(eocd[10:])
	cdSize := int(binary.LittleEndian.Uint32(eocd[12:]))
	cdOffset := int(binary.LittleEndian.Uint32(eocd[16:]))
	cd := container[cdOffset : cdOffset+cdSize]

	var newCD bytes.Buffer
	for off := 0; off < len(cd); {
		h := cd[off:]
		require.Equal(t, uint32(dirSig), binary.LittleEndian.Uint32(h))
		nameLen := int(binary.LittleEndian.Uint16(h[28:]))
		extraLen := int(binary.LittleEndian.Uint16(h[30:]))
		commentLen := int(binary.LittleEndian.Uint16(h[32:]))
		total := dirHeaderLen + nameLen + extraLen + commentLen

		zip64 := make([]byte, 4+24)
		binary.LittleEndian.PutUint16(zip64, 0x0001)
		binary.LittleEndian.PutUint16(zip64[2:], 24)
		binary.LittleEndian.PutUint64(zip64[4:], uint64(binary.LittleEndian.Uint32(h[24:])))
		binary.LittleEndian.PutUint64(zip64[12:], uint64(binary.LittleEndian.Uint32(h[20:])))
		binary.LittleEndian.PutUint64(zip64[20:], uint64(binary.LittleEndian.Uint32(h[42:])))

		fixed := make([]byte, dirHeaderLen)
		copy(fixed, h[:dirHeaderLen])
		binary.LittleEndian.PutUint32(fixed[20:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(fixed[24:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(fixed[42:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint16(fixed[30:], uint16(extraLen+len(zip64)))

		newCD.Write(fixed)
		newCD.Write(h[dirHeaderLen : dirHeaderLen+nameLen+extraLen])
		newCD.Write(zip64)
		newCD.Write(h[dirHeaderLen+nameLen+extraLen : total])
		off += total
	}

	rec := make([]byte, end64Len)
	binary.LittleEndian.PutUint32(rec, end64Sig)
	binary.LittleEndian.PutUint64(rec[4:], end64Len-12)
	binary.LittleEndian.PutUint16(rec[12:], 45)
	binary.LittleEndian.PutUint16(rec[14:], 45)
	binary.LittleEndian.PutUint64(rec[24:], uint64(entries))
	binary.LittleEndian.PutUint64(rec[32:], uint64(entries))
	binary.LittleEndian.PutUint64(rec[40:], uint64(newCD.Len()))
	binary.LittleEndian.PutUint64(rec[48:], uint64(cdOffset))

	loc := make([]byte, locator64Len)
	binary.LittleEndian.PutUint32(loc, locator64Sig)
	binary.LittleEndian.PutUint64(loc[8:], uint64(cdOffset+newCD.Len()))
	binary.LittleEndian.PutUint32(loc[16:], 1)

	classic := make([]byte, endLen)
	copy(classic, eocd)
	binary.LittleEndian.PutUint16(classic[8:], 0xFFFF)
	binary.LittleEndian.PutUint16(classic[10:], 0xFFFF)
	binary.LittleEndian.PutUint32(classic[12:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(classic[16:], 0xFFFFFFFF)

	out := append([]byte{}, container[:cdOffset]...)
	out = append(out, newCD.Bytes()...)
	out = append(out, rec...)
	out = append(out, loc...)
	return append(out, classic...)
}

func TestParseZip64Trailer(t *testing.T) {
	t.Parallel()

	container := asZip64(t, testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "a.txt", Data: []byte("alpha alpha alpha")},
		{Name: "b.bin", Data: []byte("beta"), Store: true},
	}))

	for _, stubLen := range []int{0, 1024} {
		prefixed := testutil.PrependStub(container, stubLen)
		ix, err := Parse(bytes.NewReader(prefixed), int64(len(prefixed)))
		require.NoError(t, err, "stub length %d", stubLen)

		assert.Equal(t, int64(stubLen), ix.BaseOffset(), "stub length %d", stubLen)
		require.Equal(t, 2, ix.Len())
		assert.Equal(t, []byte("alpha alpha alpha"), readEntry(t, ix, "a.txt"))
		assert.Equal(t, []byte("beta"), readEntry(t, ix, "b.bin"))

		// The saturated 32-bit fields resolve through the zip64 extra.
		rec, ok := ix.Lookup("a.txt")
		require.True(t, ok)
		assert.Equal(t, int64(len("alpha alpha alpha")), rec.UncompressedSize)
		rec, ok = ix.Lookup("b.bin")
		require.True(t, ok)
		assert.Equal(t, int64(len("beta")), rec.CompressedSize)
	}
}

func TestParseZip64CorruptLocatorFails(t *testing.T) {
	t.Parallel()

	container := asZip64(t, testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "a.txt", Data: []byte("alpha")},
	}))
	locPos := len(container) - endLen - locator64Len
	binary.LittleEndian.PutUint32(container[locPos:], 0x21436587)

	_, err := Parse(bytes.NewReader(container), int64(len(container)))
	require.ErrorIs(t, err, ErrFormat)
}

func TestMissingTrailerFailsAtParse(t *testing.T) {
	t.Parallel()

	junk := bytes.Repeat([]byte("not a container"), 100)
	_, err := Parse(bytes.NewReader(junk), int64(len(junk)))
	require.ErrorIs(t, err, ErrFormat)
}

func TestTruncatedContainerFailsAtParse(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "a.txt", Data: []byte("alpha")},
	})

	// Drop the trailer's final bytes.
	truncated := container[:len(container)-5]
	_, err := Parse(bytes.NewReader(truncated), int64(len(truncated)))
	require.ErrorIs(t, err, ErrFormat)

	_, err = Parse(bytes.NewReader(container[:10]), 10)
	require.ErrorIs(t, err, ErrFormat)
}

func TestDuplicateNamesLastIndexedWins(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "dup.txt", Data: []byte("first")},
		{Name: "dup.txt", Data: []byte("second")},
	})
	ix := parse(t, container)

	require.Equal(t, 2, ix.Len())
	assert.Equal(t, []byte("second"), readEntry(t, ix, "dup.txt"))
}

func TestCorruptLocalHeaderFailsAtRead(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "a.txt", Data: []byte("alpha")},
	})
	// The first entry's local header starts at byte 0.
	container[0] ^= 0xFF

	ix := parse(t, container)
	_, err := ix.Open("a.txt")
	require.ErrorIs(t, err, ErrFormat)
}

func TestUnsupportedMethodFailsOnlyAtRead(t *testing.T) {
	t.Parallel()

	const weirdMethod = 12

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(weirdMethod, func(w io.Writer) (io.WriteCloser, error) {
		return passthroughWriter{w}, nil
	})
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "odd.bin", Method: weirdMethod})
	require.NoError(t, err)
	_, err = w.Write([]byte("opaque"))
	require.NoError(t, err)
	w, err = zw.CreateHeader(&zip.FileHeader{Name: "ok.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("fine"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	// Index build succeeds; only reading the odd entry fails.
	ix := parse(t, buf.Bytes())
	assert.Equal(t, []byte("fine"), readEntry(t, ix, "ok.txt"))

	_, err = ix.Open("odd.bin")
	require.ErrorIs(t, err, ErrFormat)
}

func TestSliceRequiresStoredEntry(t *testing.T) {
	t.Parallel()

	container := testutil.BuildContainer(t, []testutil.FileSpec{
		{Name: "stored.bin", Data: []byte("stored bytes"), Store: true},
		{Name: "packed.bin", Data: []byte("packed bytes packed bytes")},
	})
	ix := parse(t, container)

	rec, ok := ix.Lookup("stored.bin")
	require.True(t, ok)
	off, length, err := ix.Slice(rec)
	require.NoError(t, err)
	assert.Equal(t, int64(len("stored bytes")), length)

	got := make([]byte, length)
	_, err = io.ReadFull(io.NewSectionReader(bytes.NewReader(container), off, length), got)
	require.NoError(t, err)
	assert.Equal(t, []byte("stored bytes"), got)

	rec, ok = ix.Lookup("packed.bin")
	require.True(t, ok)
	_, _, err = ix.Slice(rec)
	require.ErrorIs(t, err, ErrFormat)
}

type passthroughWriter struct {
	io.Writer
}

func (passthroughWriter) Close() error { return nil }
