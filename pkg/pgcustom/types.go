package pgcustom

import (
	"database/sql"
	"fmt"
)

const (
	// Magic is the identifier every custom archive starts with
	Magic = "PGDMP"

	// PreludeSize is the encoded size of the prelude in bytes
	PreludeSize = 11

	// IntSize is the only supported integer width
	IntSize = 4

	// OffsetSize is the only supported offset width
	OffsetSize = 8

	// DataBlockType is the leading byte of every data block head
	DataBlockType = 1

	// MaxCompression is the zlib level the rewritten archive is declared with
	MaxCompression = 9
)

// Version identifies a supported archive format version
type Version int

const (
	VersionUnknown Version = iota - 1
	Version1_13_0
	Version1_14_0
)

func (v Version) String() string {
	switch v {
	case Version1_13_0:
		return "1.13.0"
	case Version1_14_0:
		return "1.14.0"
	default:
		return "unknown"
	}
}

// hasTableAM reports whether TOC entries carry the tableam string
func (v Version) hasTableAM() bool {
	return v >= Version1_14_0
}

// Format is the archive format code stored in the prelude
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCustom
	FormatFiles
	FormatTar
	FormatNull
	FormatDirectory
)

var formatNames = [...]string{"Unknown", "Custom", "Files", "Tar", "Null", "Directory"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Section is the archive section a TOC entry belongs to
type Section int

const (
	SectionUnknown Section = iota
	SectionNone
	SectionPreData
	SectionData
	SectionPostData
)

var sectionNames = [...]string{"Unknown", "None", "PreData", "Data", "PostData"}

func (s Section) String() string {
	if s >= 0 && int(s) < len(sectionNames) {
		return sectionNames[s]
	}
	return fmt.Sprintf("Section(%d)", int(s))
}

// OffsetFlag describes the state of a TOC entry's data offset
type OffsetFlag uint8

const (
	OffsetUnknown OffsetFlag = iota
	OffsetNotSet
	OffsetSet
	OffsetNoData
)

var offsetFlagNames = [...]string{"Unknown", "Not Set", "Set", "No Data"}

func (f OffsetFlag) String() string {
	if int(f) < len(offsetFlagNames) {
		return offsetFlagNames[f]
	}
	return fmt.Sprintf("OffsetFlag(%d)", uint8(f))
}

// Offset is the position of a table's data block within the archive.
// Value is only meaningful when Flag is OffsetSet.
type Offset struct {
	Flag  OffsetFlag
	Value int64
}

// SetOffset returns an offset pointing at pos
func SetOffset(pos int64) Offset {
	return Offset{Flag: OffsetSet, Value: pos}
}

// IsSet reports whether the offset carries a position
func (o Offset) IsSet() bool {
	return o.Flag == OffsetSet
}

func (o Offset) String() string {
	if o.IsSet() {
		return fmt.Sprintf("Set(%d)", o.Value)
	}
	return o.Flag.String()
}

// Prelude is the fixed-size start of every archive
type Prelude struct {
	Magic      string
	Version    [3]uint8
	IntSize    uint8
	OffsetSize uint8
	Format     Format
}

// NewPrelude returns a valid prelude for the given supported version
func NewPrelude(v Version) Prelude {
	p := Prelude{
		Magic:      Magic,
		IntSize:    IntSize,
		OffsetSize: OffsetSize,
		Format:     FormatCustom,
	}
	switch v {
	case Version1_13_0:
		p.Version = [3]uint8{1, 13, 0}
	case Version1_14_0:
		p.Version = [3]uint8{1, 14, 0}
	}
	return p
}

// ArchiveVersion maps the raw version triple to a supported Version.
// Any triple other than exactly 1.13.0 or 1.14.0 is VersionUnknown.
func (p Prelude) ArchiveVersion() Version {
	switch p.Version {
	case [3]uint8{1, 13, 0}:
		return Version1_13_0
	case [3]uint8{1, 14, 0}:
		return Version1_14_0
	default:
		return VersionUnknown
	}
}

// Validate checks that the prelude describes an archive this package can parse
func (p Prelude) Validate() error {
	if p.Magic != Magic {
		return &FormatError{Message: "content did not begin with the PGDMP identifier"}
	}
	if p.ArchiveVersion() == VersionUnknown {
		return &FormatError{Message: fmt.Sprintf("unsupported archive version %d.%d.%d",
			p.Version[0], p.Version[1], p.Version[2])}
	}
	if p.IntSize != IntSize {
		return &FormatError{Message: fmt.Sprintf("unsupported %d-bit integers", int(p.IntSize)*8)}
	}
	if p.OffsetSize != OffsetSize {
		return &FormatError{Message: fmt.Sprintf("unsupported %d-bit offsets", int(p.OffsetSize)*8)}
	}
	if p.Format != FormatCustom {
		return &FormatError{Message: fmt.Sprintf("only the Custom archive format is supported, not %s", p.Format)}
	}
	return nil
}

// Head holds the archive header that follows the prelude
type Head struct {
	Compression int

	// Creation time. Month is 1-12 and Year is the full year.
	Sec   int
	Min   int
	Hour  int
	Mday  int
	Month int
	Year  int
	IsDST int

	DBName        sql.NullString
	RemoteVersion sql.NullString
	PgDumpVersion sql.NullString

	TOCCount int
	Entries  []*TocEntry
}

// TocEntry is one table of contents entry
type TocEntry struct {
	DumpID     int
	DataDumper int
	TableOID   sql.NullString
	OID        sql.NullString
	Tag        sql.NullString
	Desc       sql.NullString
	Section    Section
	Defn       sql.NullString
	DropStmt   sql.NullString
	CopyStmt   sql.NullString
	Namespace  sql.NullString
	Tablespace sql.NullString
	TableAM    sql.NullString // 1.14.0 and later
	Owner      sql.NullString
	WithOIDs   sql.NullString
	Deps       []string
	Offset     Offset
}

// HasData reports whether the entry owns a data block
func (e *TocEntry) HasData() bool {
	return e.DataDumper != 0
}

// Name returns the tag, or a placeholder naming the dump id
func (e *TocEntry) Name() string {
	if e.Tag.Valid {
		return e.Tag.String
	}
	return fmt.Sprintf("[dumpid:%d]", e.DumpID)
}

// DataEntryCount returns the number of entries that own a data block
func (h *Head) DataEntryCount() int {
	n := 0
	for _, e := range h.Entries {
		if e.HasData() {
			n++
		}
	}
	return n
}

// DataEntry returns the data-bearing entry for dumpID
func (h *Head) DataEntry(dumpID int) (*TocEntry, error) {
	for _, e := range h.Entries {
		if e.DumpID != dumpID {
			continue
		}
		if !e.HasData() {
			return nil, &ReferenceError{DumpID: dumpID, Message: "toc entry was not expected to have data"}
		}
		return e, nil
	}
	return nil, &ReferenceError{DumpID: dumpID, Message: "toc entry does not exist"}
}

// ResetForRewrite declares the given compression level and clears every
// offset so they can be filled in as data blocks are written.
func (h *Head) ResetForRewrite(compression int) {
	h.Compression = compression
	for _, e := range h.Entries {
		e.Offset = Offset{Flag: OffsetNotSet}
	}
}

// DataBlockHead precedes each table's framed data
type DataBlockHead struct {
	Type   uint8
	DumpID int
}
