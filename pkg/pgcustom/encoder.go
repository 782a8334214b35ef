package pgcustom

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// AppendInt appends the sign-magnitude encoding of v to dst
func AppendInt(dst []byte, v int) ([]byte, error) {
	mag := int64(v)
	sign := byte(0)
	if mag < 0 {
		sign = 1
		mag = -mag
	}
	if mag > math.MaxUint32 {
		return dst, fmt.Errorf("pgcustom: integer %d does not fit in %d bytes", v, IntSize)
	}
	dst = append(dst, sign)
	return binary.LittleEndian.AppendUint32(dst, uint32(mag)), nil
}

// AppendString appends a length-prefixed, nullable string to dst
func AppendString(dst []byte, s sql.NullString) ([]byte, error) {
	if !s.Valid {
		return AppendInt(dst, -1)
	}
	dst, err := AppendInt(dst, len(s.String))
	if err != nil {
		return dst, err
	}
	return append(dst, s.String...), nil
}

// AppendPrelude appends the 11 byte prelude to dst
func AppendPrelude(dst []byte, p Prelude) []byte {
	dst = append(dst, p.Magic...)
	dst = append(dst, p.Version[:]...)
	return append(dst, p.IntSize, p.OffsetSize, byte(p.Format))
}

// Encoder serializes the archive header for one archive version
type Encoder struct {
	version Version
}

// NewEncoder creates an encoder matching prelude's version
func NewEncoder(prelude Prelude) (*Encoder, error) {
	if err := prelude.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{version: prelude.ArchiveVersion()}, nil
}

// EncodeHeader returns the prelude followed by the encoded head
func (e *Encoder) EncodeHeader(prelude Prelude, h *Head) ([]byte, error) {
	out := AppendPrelude(make([]byte, 0, 4096), prelude)
	return e.AppendHead(out, h)
}

// AppendHead appends the head scalar fields and every TOC entry to dst
func (e *Encoder) AppendHead(dst []byte, h *Head) ([]byte, error) {
	if h.TOCCount != len(h.Entries) {
		return nil, &FormatError{Message: fmt.Sprintf("toc count %d does not match %d entries", h.TOCCount, len(h.Entries))}
	}

	b := &encBuf{b: dst}
	b.int(h.Compression)
	b.int(h.Sec)
	b.int(h.Min)
	b.int(h.Hour)
	b.int(h.Mday)
	b.int(h.Month - 1)
	b.int(h.Year - 1900)
	b.int(h.IsDST)
	b.string(h.DBName)
	b.string(h.RemoteVersion)
	b.string(h.PgDumpVersion)
	b.int(h.TOCCount)
	for _, entry := range h.Entries {
		e.appendTocEntry(b, entry)
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.b, nil
}

func (e *Encoder) appendTocEntry(b *encBuf, entry *TocEntry) {
	b.int(entry.DumpID)
	b.int(entry.DataDumper)
	b.string(entry.TableOID)
	b.string(entry.OID)
	b.string(entry.Tag)
	b.string(entry.Desc)
	b.int(int(entry.Section))
	b.string(entry.Defn)
	b.string(entry.DropStmt)
	b.string(entry.CopyStmt)
	b.string(entry.Namespace)
	b.string(entry.Tablespace)
	if e.version.hasTableAM() {
		b.string(entry.TableAM)
	}
	b.string(entry.Owner)
	b.string(entry.WithOIDs)
	for _, dep := range entry.Deps {
		b.string(sql.NullString{String: dep, Valid: true})
	}
	b.string(sql.NullString{})
	b.offset(entry.Offset, entry.HasData())
}

// encBuf accumulates encoded fields; the first error sticks
type encBuf struct {
	b   []byte
	err error
}

func (b *encBuf) int(v int) {
	if b.err != nil {
		return
	}
	b.b, b.err = AppendInt(b.b, v)
}

func (b *encBuf) string(s sql.NullString) {
	if b.err != nil {
		return
	}
	b.b, b.err = AppendString(b.b, s)
}

// offset writes Set with the value when one is present; otherwise the flag
// is NotSet for entries that own data and NoData for the rest.
func (b *encBuf) offset(o Offset, hasData bool) {
	if b.err != nil {
		return
	}
	var value uint64
	flag := OffsetNoData
	switch {
	case o.IsSet():
		flag = OffsetSet
		value = uint64(o.Value)
	case hasData:
		flag = OffsetNotSet
	}
	b.b = append(b.b, byte(flag))
	b.b = binary.LittleEndian.AppendUint64(b.b, value)
}
