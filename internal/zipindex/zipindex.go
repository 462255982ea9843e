// Package zipindex locates and walks the central index of a ZIP-family
// container without ever materializing entry data.
//
// The container may be prefixed by an arbitrary executable stub. The parser
// derives a base offset by comparing where the end-of-central-directory
// record claims the index lives against where it was actually found, and
// applies that correction to every offset read from the index afterwards.
package zipindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"time"

	"github.com/klauspost/compress/flate"
)

// ErrFormat reports a malformed, truncated, or unsupported container.
var ErrFormat = errors.New("capsule: malformed archive")

// Compression methods recorded in the index.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

const (
	endSig       = 0x06054b50 // end of central directory
	end64Sig     = 0x06064b50 // zip64 end of central directory
	locator64Sig = 0x07064b50 // zip64 end of central directory locator
	dirSig       = 0x02014b50 // central directory file header
	fileSig      = 0x04034b50 // local file header

	endLen        = 22
	end64Len      = 56
	locator64Len  = 20
	dirHeaderLen  = 46
	fileHeaderLen = 30

	maxCommentLen = 0xFFFF
)

// Record describes one indexed entry.
//
// Offsets held internally are the claimed values from the index; the base
// correction is applied when the record's data is opened or sliced.
type Record struct {
	Name             string
	Dir              bool
	Method           uint16
	CRC32            uint32
	CompressedSize   int64
	UncompressedSize int64
	Modified         time.Time

	headerOffset int64
}

// Index is the parsed name→location map of one container.
//
// An Index is immutable after Parse and safe for concurrent use; reads of
// disjoint byte ranges through the shared source are safe by contract.
type Index struct {
	src     io.ReaderAt
	size    int64
	base    int64
	records []Record
	byName  map[string]int
}

// Parse scans src backward for the end-of-index trailer, derives the base
// offset, and walks the central directory once.
//
// A truncated or missing trailer, or an index that does not line up with the
// file, fails with ErrFormat.
func Parse(src io.ReaderAt, size int64) (*Index, error) {
	if size < endLen {
		return nil, fmt.Errorf("%w: %d bytes is too small to hold an index trailer", ErrFormat, size)
	}

	endOff, end, err := findTrailer(src, size)
	if err != nil {
		return nil, err
	}

	base, cdStart, err := resolveDirectory(src, endOff, &end)
	if err != nil {
		return nil, err
	}

	ix := &Index{src: src, size: size, base: base}
	if err := ix.walkDirectory(cdStart, end.cdSize, end.entries); err != nil {
		return nil, err
	}
	return ix, nil
}

// trailer carries the fields of the end record relevant to locating the
// central directory, widened to zip64 ranges.
type trailer struct {
	entries   uint64
	cdSize    int64
	cdOffset  int64
	saturated bool
}

// findTrailer scans backward from the end of the file for a trailer whose
// comment length is consistent with its position. The scan is bounded by the
// maximum comment length, so a stub that merely contains the signature bytes
// deeper in the file is never mistaken for the trailer.
func findTrailer(src io.ReaderAt, size int64) (int64, trailer, error) {
	tailLen := int64(endLen + maxCommentLen)
	if tailLen > size {
		tailLen = size
	}
	buf := make([]byte, tailLen)
	if _, err := src.ReadAt(buf, size-tailLen); err != nil && err != io.EOF {
		return 0, trailer{}, fmt.Errorf("capsule: read trailer region: %w", err)
	}

	for i := len(buf) - endLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != endSig {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(buf[i+20:]))
		if i+endLen+commentLen != len(buf) {
			continue
		}
		end := trailer{
			entries:  uint64(binary.LittleEndian.Uint16(buf[i+10:])),
			cdSize:   int64(binary.LittleEndian.Uint32(buf[i+12:])),
			cdOffset: int64(binary.LittleEndian.Uint32(buf[i+16:])),
		}
		end.saturated = end.entries == 0xFFFF ||
			end.cdSize == 0xFFFFFFFF || end.cdOffset == 0xFFFFFFFF
		return size - tailLen + int64(i), end, nil
	}
	return 0, trailer{}, fmt.Errorf("%w: end-of-index trailer not found", ErrFormat)
}

// resolveDirectory derives the base offset and the absolute start of the
// central directory, consulting the zip64 records when the classic trailer
// carries saturated markers.
func resolveDirectory(src io.ReaderAt, endOff int64, end *trailer) (base, cdStart int64, err error) {
	if end.saturated {
		return resolveDirectory64(src, endOff, end)
	}

	cdStart = endOff - end.cdSize
	base = cdStart - end.cdOffset
	if cdStart < 0 || base < 0 {
		return 0, 0, fmt.Errorf("%w: index trailer points before start of file", ErrFormat)
	}
	return base, cdStart, nil
}

// resolveDirectory64 reads the zip64 locator and end record. The locator's
// claimed record position is compared against the record's physical position
// to derive the same stub correction the classic path computes.
func resolveDirectory64(src io.ReaderAt, endOff int64, end *trailer) (base, cdStart int64, err error) {
	locOff := endOff - locator64Len
	if locOff < 0 {
		return 0, 0, fmt.Errorf("%w: zip64 locator truncated", ErrFormat)
	}
	loc := make([]byte, locator64Len)
	if _, err := src.ReadAt(loc, locOff); err != nil {
		return 0, 0, fmt.Errorf("capsule: read zip64 locator: %w", err)
	}
	if binary.LittleEndian.Uint32(loc) != locator64Sig {
		return 0, 0, fmt.Errorf("%w: zip64 locator missing", ErrFormat)
	}
	claimed := int64(binary.LittleEndian.Uint64(loc[8:]))

	// The record sits directly before its locator.
	recOff := locOff - end64Len
	if recOff < 0 || recOff < claimed {
		return 0, 0, fmt.Errorf("%w: zip64 end record truncated", ErrFormat)
	}
	base = recOff - claimed

	rec := make([]byte, end64Len)
	if _, err := src.ReadAt(rec, recOff); err != nil {
		return 0, 0, fmt.Errorf("capsule: read zip64 end record: %w", err)
	}
	if binary.LittleEndian.Uint32(rec) != end64Sig {
		return 0, 0, fmt.Errorf("%w: zip64 end record missing", ErrFormat)
	}

	end.entries = binary.LittleEndian.Uint64(rec[32:])
	end.cdSize = int64(binary.LittleEndian.Uint64(rec[40:]))
	end.cdOffset = int64(binary.LittleEndian.Uint64(rec[48:]))
	cdStart = base + end.cdOffset
	if end.cdSize < 0 || cdStart < 0 || cdStart+end.cdSize > recOff {
		return 0, 0, fmt.Errorf("%w: zip64 index does not fit in file", ErrFormat)
	}
	return base, cdStart, nil
}

// walkDirectory reads the whole central directory once and builds the
// ordered record list plus the last-wins name map.
func (ix *Index) walkDirectory(cdStart, cdSize int64, count uint64) error {
	if cdSize < 0 || cdStart+cdSize > ix.size {
		return fmt.Errorf("%w: index does not fit in file", ErrFormat)
	}
	buf := make([]byte, cdSize)
	if _, err := ix.src.ReadAt(buf, cdStart); err != nil && err != io.EOF {
		return fmt.Errorf("capsule: read index: %w", err)
	}

	ix.records = make([]Record, 0, count)
	ix.byName = make(map[string]int, count)

	off := 0
	for off < len(buf) {
		if len(buf)-off < dirHeaderLen {
			return fmt.Errorf("%w: truncated index record", ErrFormat)
		}
		h := buf[off:]
		if binary.LittleEndian.Uint32(h) != dirSig {
			return fmt.Errorf("%w: bad index record signature at %d", ErrFormat, cdStart+int64(off))
		}
		nameLen := int(binary.LittleEndian.Uint16(h[28:]))
		extraLen := int(binary.LittleEndian.Uint16(h[30:]))
		commentLen := int(binary.LittleEndian.Uint16(h[32:]))
		total := dirHeaderLen + nameLen + extraLen + commentLen
		if len(buf)-off < total {
			return fmt.Errorf("%w: truncated index record", ErrFormat)
		}

		name := string(h[dirHeaderLen : dirHeaderLen+nameLen])
		rec := Record{
			Name:             name,
			Dir:              len(name) > 0 && name[len(name)-1] == '/',
			Method:           binary.LittleEndian.Uint16(h[10:]),
			Modified:         dosTime(binary.LittleEndian.Uint16(h[14:]), binary.LittleEndian.Uint16(h[12:])),
			CRC32:            binary.LittleEndian.Uint32(h[16:]),
			CompressedSize:   int64(binary.LittleEndian.Uint32(h[20:])),
			UncompressedSize: int64(binary.LittleEndian.Uint32(h[24:])),
			headerOffset:     int64(binary.LittleEndian.Uint32(h[42:])),
		}
		applyZip64Extra(&rec, h[dirHeaderLen+nameLen:dirHeaderLen+nameLen+extraLen])

		// Duplicate names: the last indexed entry wins.
		ix.byName[name] = len(ix.records)
		ix.records = append(ix.records, rec)
		off += total
	}
	if uint64(len(ix.records)) != count {
		return fmt.Errorf("%w: index claims %d entries, found %d", ErrFormat, count, len(ix.records))
	}
	return nil
}

// applyZip64Extra replaces saturated 32-bit fields with their 64-bit values
// from the zip64 extra block, when present.
func applyZip64Extra(rec *Record, extra []byte) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		fieldLen := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra)-4 < fieldLen {
			return
		}
		if id != 0x0001 {
			extra = extra[4+fieldLen:]
			continue
		}
		f := extra[4 : 4+fieldLen]
		if rec.UncompressedSize == 0xFFFFFFFF && len(f) >= 8 {
			rec.UncompressedSize = int64(binary.LittleEndian.Uint64(f))
			f = f[8:]
		}
		if rec.CompressedSize == 0xFFFFFFFF && len(f) >= 8 {
			rec.CompressedSize = int64(binary.LittleEndian.Uint64(f))
			f = f[8:]
		}
		if rec.headerOffset == 0xFFFFFFFF && len(f) >= 8 {
			rec.headerOffset = int64(binary.LittleEndian.Uint64(f))
		}
		return
	}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	return len(ix.records)
}

// BaseOffset returns the derived prefix-stub length.
func (ix *Index) BaseOffset() int64 {
	return ix.base
}

// Records iterates the index in physical order.
func (ix *Index) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range ix.records {
			if !yield(rec) {
				return
			}
		}
	}
}

// Lookup returns the record for name. With duplicate names the last indexed
// record is returned.
func (ix *Index) Lookup(name string) (Record, bool) {
	i, ok := ix.byName[name]
	if !ok {
		return Record{}, false
	}
	return ix.records[i], true
}

// dataOffset validates the entry's local header and returns the absolute
// position of its data. A header that does not match the index is reported
// as ErrFormat at this read, not earlier.
func (ix *Index) dataOffset(rec Record) (int64, error) {
	headerOff := ix.base + rec.headerOffset
	h := make([]byte, fileHeaderLen)
	if _, err := ix.src.ReadAt(h, headerOff); err != nil {
		return 0, fmt.Errorf("capsule: read entry header %q: %w", rec.Name, err)
	}
	if binary.LittleEndian.Uint32(h) != fileSig {
		return 0, fmt.Errorf("%w: entry %q has a corrupt local header", ErrFormat, rec.Name)
	}
	nameLen := int64(binary.LittleEndian.Uint16(h[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(h[28:]))
	off := headerOff + fileHeaderLen + nameLen + extraLen
	if off+rec.CompressedSize > ix.size {
		return 0, fmt.Errorf("%w: entry %q data extends past end of file", ErrFormat, rec.Name)
	}
	return off, nil
}

// Open streams the named entry's bytes, decompressing incrementally.
//
// An unsupported compression method fails here, when the entry is read,
// never at index-build time.
func (ix *Index) Open(name string) (io.ReadCloser, error) {
	rec, ok := ix.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return ix.OpenRecord(rec)
}

// OpenRecord streams an already-looked-up record.
func (ix *Index) OpenRecord(rec Record) (io.ReadCloser, error) {
	off, err := ix.dataOffset(rec)
	if err != nil {
		return nil, err
	}
	raw := io.NewSectionReader(ix.src, off, rec.CompressedSize)
	switch rec.Method {
	case MethodStore:
		return io.NopCloser(raw), nil
	case MethodDeflate:
		return flate.NewReader(raw), nil
	default:
		return nil, fmt.Errorf("%w: entry %q uses unsupported compression method %d", ErrFormat, rec.Name, rec.Method)
	}
}

// Slice returns the absolute data range of a stored entry, for zero-copy
// views over the shared source. Compressed entries have no addressable
// range and fail.
func (ix *Index) Slice(rec Record) (off, length int64, err error) {
	if rec.Method != MethodStore {
		return 0, 0, fmt.Errorf("%w: entry %q must be stored uncompressed to nest", ErrFormat, rec.Name)
	}
	off, err = ix.dataOffset(rec)
	if err != nil {
		return 0, 0, err
	}
	return off, rec.CompressedSize, nil
}

// dosTime converts the index's date and time fields.
func dosTime(d, t uint16) time.Time {
	return time.Date(
		int(d>>9)+1980, time.Month(d>>5&0xF), int(d&0x1F),
		int(t>>11), int(t>>5&0x3F), int(t&0x1F)*2, 0, time.UTC,
	)
}
