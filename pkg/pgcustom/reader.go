package pgcustom

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxStringLen bounds a single string allocation while decoding
const maxStringLen = 1 << 30

// ReadExact reads exactly n bytes from r. It blocks until the bytes arrive and
// returns a *TruncationError if r ends first; it never returns a short read.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &TruncationError{Want: len(buf), Got: n}
		}
		return err
	}
	return nil
}

// ReadPrelude reads the 11 byte prelude. It does not validate it.
func ReadPrelude(r io.Reader) (Prelude, error) {
	var buf [PreludeSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return Prelude{}, err
	}
	return Prelude{
		Magic:      string(buf[0:5]),
		Version:    [3]uint8{buf[5], buf[6], buf[7]},
		IntSize:    buf[8],
		OffsetSize: buf[9],
		Format:     Format(buf[10]),
	}, nil
}

// Reader decodes the header and data blocks that follow a validated prelude.
// Decoding errors are sticky: once a read fails every later read returns the
// same error.
type Reader struct {
	r       io.Reader
	version Version
	scratch [1 + OffsetSize]byte
	err     error
}

// NewReader creates a reader for the archive body described by prelude
func NewReader(r io.Reader, prelude Prelude) (*Reader, error) {
	if err := prelude.Validate(); err != nil {
		return nil, err
	}
	return &Reader{r: r, version: prelude.ArchiveVersion()}, nil
}

// Version returns the archive version being read
func (r *Reader) Version() Version {
	return r.version
}

// ReadHead decodes the header scalar fields and every TOC entry
func (r *Reader) ReadHead() (*Head, error) {
	h := &Head{}
	h.Compression = r.readInt()
	h.Sec = r.readInt()
	h.Min = r.readInt()
	h.Hour = r.readInt()
	h.Mday = r.readInt()
	h.Month = r.readInt() + 1
	h.Year = r.readInt() + 1900
	h.IsDST = r.readInt()
	h.DBName = r.readString()
	h.RemoteVersion = r.readString()
	h.PgDumpVersion = r.readString()
	h.TOCCount = r.readInt()
	if r.err != nil {
		return nil, r.err
	}
	if h.TOCCount < 0 {
		return nil, &FormatError{Message: fmt.Sprintf("negative toc count %d", h.TOCCount)}
	}

	h.Entries = make([]*TocEntry, 0, min(h.TOCCount, 1<<16))
	for i := 0; i < h.TOCCount; i++ {
		entry, err := r.readTocEntry()
		if err != nil {
			return nil, fmt.Errorf("toc entry %d: %w", i, err)
		}
		h.Entries = append(h.Entries, entry)
	}
	return h, nil
}

func (r *Reader) readTocEntry() (*TocEntry, error) {
	e := &TocEntry{}
	e.DumpID = r.readInt()
	e.DataDumper = r.readInt()
	e.TableOID = r.readString()
	e.OID = r.readString()
	e.Tag = r.readString()
	e.Desc = r.readString()
	e.Section = Section(r.readInt())
	e.Defn = r.readString()
	e.DropStmt = r.readString()
	e.CopyStmt = r.readString()
	e.Namespace = r.readString()
	e.Tablespace = r.readString()
	if r.version.hasTableAM() {
		e.TableAM = r.readString()
	}
	e.Owner = r.readString()
	e.WithOIDs = r.readString()
	e.Deps = r.readStringArray()
	e.Offset = r.readOffset()
	if r.err != nil {
		return nil, r.err
	}
	if err := ValidateTocEntry(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateTocEntry checks that every dependency is a decimal dump id
func ValidateTocEntry(e *TocEntry) error {
	for _, dep := range e.Deps {
		if !isDecimal(dep) {
			return &FormatError{Message: fmt.Sprintf("toc entry %d has a non-integer dependency %q", e.DumpID, dep)}
		}
	}
	return nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ReadDataBlockHead reads the type byte and dump id that introduce a data block
func (r *Reader) ReadDataBlockHead() (DataBlockHead, error) {
	if r.err != nil {
		return DataBlockHead{}, r.err
	}
	if err := readFull(r.r, r.scratch[:1]); err != nil {
		r.err = err
		return DataBlockHead{}, err
	}
	if r.scratch[0] != DataBlockType {
		r.err = &FormatError{Message: fmt.Sprintf("data block began with 0x%02x, expected 0x01", r.scratch[0])}
		return DataBlockHead{}, r.err
	}
	dumpID := r.readInt()
	if r.err != nil {
		return DataBlockHead{}, r.err
	}
	return DataBlockHead{Type: DataBlockType, DumpID: dumpID}, nil
}

// ReadChunk reads the next length-prefixed chunk of the current data block.
// It returns io.EOF once the block's terminating length has been consumed.
func (r *Reader) ReadChunk() ([]byte, error) {
	n := r.readInt()
	if r.err != nil {
		return nil, r.err
	}
	if n <= 0 {
		return nil, io.EOF
	}
	chunk, err := ReadExact(r.r, n)
	if err != nil {
		r.err = err
		return nil, err
	}
	return chunk, nil
}

// Chunks returns an iterator over the chunks of the current data block
func (r *Reader) Chunks() *ChunkIterator {
	return &ChunkIterator{reader: r}
}

// ChunkIterator provides streaming access to one data block's chunks
type ChunkIterator struct {
	reader *Reader
	chunk  []byte
	err    error
	done   bool
}

// Next advances to the next chunk. It returns false at the end of the block
// or on error; check Err to tell them apart.
func (it *ChunkIterator) Next() bool {
	if it.done {
		return false
	}
	it.chunk, it.err = it.reader.ReadChunk()
	if it.err != nil {
		it.done = true
		if errors.Is(it.err, io.EOF) {
			it.err = nil
		}
		return false
	}
	return true
}

// Chunk returns the current chunk. The slice is owned by the caller.
func (it *ChunkIterator) Chunk() []byte {
	return it.chunk
}

func (it *ChunkIterator) Err() error {
	return it.err
}

func (r *Reader) readInt() int {
	if r.err != nil {
		return 0
	}
	buf := r.scratch[:1+IntSize]
	if err := readFull(r.r, buf); err != nil {
		r.err = err
		return 0
	}
	v := int(binary.LittleEndian.Uint32(buf[1:]))
	if buf[0] != 0 {
		v = -v
	}
	return v
}

func (r *Reader) readString() sql.NullString {
	n := r.readInt()
	if r.err != nil || n == -1 {
		return sql.NullString{}
	}
	if n <= 0 {
		return sql.NullString{Valid: true}
	}
	if n > maxStringLen {
		r.err = &FormatError{Message: fmt.Sprintf("string length %d exceeds limit", n)}
		return sql.NullString{}
	}
	buf, err := ReadExact(r.r, n)
	if err != nil {
		r.err = err
		return sql.NullString{}
	}
	return sql.NullString{String: string(buf), Valid: true}
}

func (r *Reader) readStringArray() []string {
	var out []string
	for {
		s := r.readString()
		if r.err != nil || !s.Valid {
			return out
		}
		out = append(out, s.String)
	}
}

func (r *Reader) readOffset() Offset {
	if r.err != nil {
		return Offset{}
	}
	buf := r.scratch[:1+OffsetSize]
	if err := readFull(r.r, buf); err != nil {
		r.err = err
		return Offset{}
	}
	flag := OffsetFlag(buf[0])
	if flag > OffsetNoData {
		r.err = &FormatError{Message: fmt.Sprintf("unknown offset flag %d", buf[0])}
		return Offset{}
	}
	if flag != OffsetSet {
		return Offset{Flag: flag}
	}
	return Offset{Flag: flag, Value: int64(binary.LittleEndian.Uint64(buf[1:]))}
}

// ReadHeader reads and validates the prelude, then decodes the head. The
// returned reader is positioned at the first data block.
func ReadHeader(in io.Reader) (Prelude, *Reader, *Head, error) {
	prelude, err := ReadPrelude(in)
	if err != nil {
		return Prelude{}, nil, nil, fmt.Errorf("read prelude: %w", err)
	}
	r, err := NewReader(in, prelude)
	if err != nil {
		return prelude, nil, nil, err
	}
	head, err := r.ReadHead()
	if err != nil {
		return prelude, nil, nil, fmt.Errorf("read header: %w", err)
	}
	return prelude, r, head, nil
}
