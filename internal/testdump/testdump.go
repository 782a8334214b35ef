// Package testdump builds small custom-format archives the way pg_dump would
// write them with --compress=0, and reads back rewritten archives for
// assertions in tests.
package testdump

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/ssargent/pgscrub/pkg/copytext"
	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

// Table describes one table and its rows. Each row is a list of raw COPY
// field values, already escaped; use `\N` for NULL.
type Table struct {
	DumpID    int
	Namespace string
	Name      string
	Columns   []string
	Rows      [][]string
}

// Block is one data block as it will be written to the archive
type Block struct {
	DumpID int
	Chunks [][]byte
}

// Archive is an editable archive. Tests may reorder or tamper with Blocks
// before calling Bytes.
type Archive struct {
	Prelude pgcustom.Prelude
	Head    *pgcustom.Head
	Blocks  []Block
}

func str(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// CopyStatement returns the COPY statement pg_dump stores for t
func CopyStatement(t Table) string {
	return fmt.Sprintf("COPY %s.%s (%s) FROM stdin;\n", t.Namespace, t.Name, strings.Join(t.Columns, ", "))
}

// New builds an archive with a schema entry without data followed by one
// data-bearing entry per table. Blocks follow the order of tables.
func New(version pgcustom.Version, tables ...Table) *Archive {
	head := &pgcustom.Head{
		Sec: 5, Min: 4, Hour: 3, Mday: 2, Month: 1, Year: 2024,
		DBName:        str("app"),
		RemoteVersion: str("16.2"),
		PgDumpVersion: str("16.2"),
	}
	head.Entries = append(head.Entries, &pgcustom.TocEntry{
		DumpID:    1,
		Tag:       str("public"),
		Desc:      str("SCHEMA"),
		Section:   pgcustom.SectionPreData,
		Defn:      str("CREATE SCHEMA public;\n"),
		DropStmt:  str("DROP SCHEMA public;\n"),
		CopyStmt:  str(""),
		Namespace: str(""),
		Owner:     str("postgres"),
		WithOIDs:  str("false"),
		Offset:    pgcustom.Offset{Flag: pgcustom.OffsetNoData},
	})

	a := &Archive{Prelude: pgcustom.NewPrelude(version), Head: head}
	for _, t := range tables {
		head.Entries = append(head.Entries, &pgcustom.TocEntry{
			DumpID:     t.DumpID,
			DataDumper: 1,
			TableOID:   str("1259"),
			OID:        str(fmt.Sprint(16000 + t.DumpID)),
			Tag:        str(t.Name),
			Desc:       str("TABLE DATA"),
			Section:    pgcustom.SectionData,
			Defn:       str(""),
			DropStmt:   str(""),
			CopyStmt:   str(CopyStatement(t)),
			Namespace:  str(t.Namespace),
			Tablespace: str(""),
			TableAM:    str(""),
			Owner:      str("postgres"),
			WithOIDs:   str("false"),
			Deps:       []string{"1"},
			Offset:     pgcustom.Offset{Flag: pgcustom.OffsetNotSet},
		})

		block := Block{DumpID: t.DumpID}
		for _, r := range t.Rows {
			block.Chunks = append(block.Chunks, []byte(strings.Join(r, "\t")+"\n"))
		}
		block.Chunks = append(block.Chunks, append([]byte(nil), copytext.EndOfData...))
		a.Blocks = append(a.Blocks, block)
	}
	head.TOCCount = len(head.Entries)
	return a
}

// Bytes encodes the archive
func (a *Archive) Bytes() ([]byte, error) {
	enc, err := pgcustom.NewEncoder(a.Prelude)
	if err != nil {
		return nil, err
	}
	out, err := enc.EncodeHeader(a.Prelude, a.Head)
	if err != nil {
		return nil, err
	}
	for _, b := range a.Blocks {
		out = pgcustom.AppendDataBlockHead(out, b.DumpID)
		for _, c := range b.Chunks {
			if out, err = pgcustom.AppendInt(out, len(c)); err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
		if out, err = pgcustom.AppendInt(out, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParsedBlock is a decompressed data block read back from an archive
type ParsedBlock struct {
	DumpID int
	// Position is where the block's type byte sits in the archive
	Position int64
	// Data is the decompressed COPY text, end-of-data marker included
	Data []byte
}

// Rows splits Data into rows without their terminators, dropping the
// end-of-data marker
func (b ParsedBlock) Rows() []string {
	text := strings.TrimSuffix(string(b.Data), string(copytext.EndOfData))
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// Parsed is a rewritten archive read back for inspection
type Parsed struct {
	Prelude pgcustom.Prelude
	Head    *pgcustom.Head
	Blocks  []ParsedBlock
}

// Block returns the parsed block for dumpID
func (p *Parsed) Block(dumpID int) (ParsedBlock, bool) {
	for _, b := range p.Blocks {
		if b.DumpID == dumpID {
			return b, true
		}
	}
	return ParsedBlock{}, false
}

// Parse reads a complete archive whose data blocks are zlib compressed
func Parse(data []byte) (*Parsed, error) {
	br := bytes.NewReader(data)
	prelude, r, head, err := pgcustom.ReadHeader(br)
	if err != nil {
		return nil, err
	}

	p := &Parsed{Prelude: prelude, Head: head}
	for br.Len() > 0 {
		pos := int64(len(data) - br.Len())
		bh, err := r.ReadDataBlockHead()
		if err != nil {
			return nil, err
		}
		var compressed []byte
		it := r.Chunks()
		for it.Next() {
			compressed = append(compressed, it.Chunk()...)
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("dump id %d: %w", bh.DumpID, err)
		}
		plain, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("dump id %d: %w", bh.DumpID, err)
		}
		p.Blocks = append(p.Blocks, ParsedBlock{DumpID: bh.DumpID, Position: pos, Data: plain})
	}
	return p, nil
}
