// Package copytext parses and formats rows in PostgreSQL's COPY text format.
//
// A row is a run of columns separated by a tab and terminated by a newline.
// Column content keeps its COPY escaping; ParseField and FormatField convert
// between escaped column bytes and plain values for the transforms that need
// to look inside a value.
//
// See: https://www.postgresql.org/docs/current/sql-copy.html#id-1.9.3.55.9.2
package copytext

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
)

const (
	// ColumnSeparator separates columns within a row
	ColumnSeparator = '\t'
	// RowTerminator ends every row
	RowTerminator = '\n'
)

var (
	// Null is the COPY representation of SQL NULL
	Null = []byte(`\N`)

	// EndOfData is the final chunk pg_dump writes after a table's rows
	EndOfData = []byte("\\.\n\n\n")
)

// RowError reports a row that is not valid COPY text
type RowError struct {
	Message string
}

func (e *RowError) Error() string {
	return "copytext: " + e.Message
}

// ParseRow splits row into its columns. The returned slices alias row. The
// trailing row terminator is not part of the last column.
func ParseRow(row []byte) ([][]byte, error) {
	if len(row) == 0 || row[len(row)-1] != RowTerminator {
		return nil, &RowError{Message: fmt.Sprintf("row of %d bytes is not newline terminated", len(row))}
	}
	body := row[:len(row)-1]
	cols := make([][]byte, 0, bytes.Count(body, []byte{ColumnSeparator})+1)
	for {
		i := bytes.IndexByte(body, ColumnSeparator)
		if i < 0 {
			return append(cols, body), nil
		}
		cols = append(cols, body[:i])
		body = body[i+1:]
	}
}

// AppendRow appends cols to dst joined by the column separator and ended by
// the row terminator. It adds exactly one byte per column.
func AppendRow(dst []byte, cols [][]byte) []byte {
	for i, c := range cols {
		if i > 0 {
			dst = append(dst, ColumnSeparator)
		}
		dst = append(dst, c...)
	}
	return append(dst, RowTerminator)
}

// FormatRow returns the serialized row for cols
func FormatRow(cols [][]byte) []byte {
	size := len(cols)
	for _, c := range cols {
		size += len(c)
	}
	return AppendRow(make([]byte, 0, size), cols)
}

// IsNull reports whether field is the NULL marker
func IsNull(field []byte) bool {
	return bytes.Equal(field, Null)
}

// IsEndOfData reports whether chunk is the end-of-data marker
func IsEndOfData(chunk []byte) bool {
	return bytes.Equal(chunk, EndOfData)
}

// ParseField removes COPY escaping from a column. The NULL marker yields an
// invalid NullString.
//
// COPY TO never emits octal or hex escapes, so an unrecognized escape decodes
// to the escaped character itself.
func ParseField(field []byte) sql.NullString {
	if IsNull(field) {
		return sql.NullString{}
	}
	if bytes.IndexByte(field, '\\') < 0 {
		return sql.NullString{String: string(field), Valid: true}
	}

	var sb strings.Builder
	sb.Grow(len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c != '\\' || i+1 == len(field) {
			sb.WriteByte(c)
			continue
		}
		i++
		if decoded, ok := decodeMap[field[i]]; ok {
			sb.WriteByte(decoded)
		} else {
			sb.WriteByte(field[i])
		}
	}
	return sql.NullString{String: sb.String(), Valid: true}
}

// FormatField escapes a value for a COPY column
func FormatField(s sql.NullString) []byte {
	if !s.Valid {
		return append([]byte(nil), Null...)
	}
	out := make([]byte, 0, len(s.String))
	for i := 0; i < len(s.String); i++ {
		c := s.String[i]
		if esc, ok := encodeMap[c]; ok {
			out = append(out, '\\', esc)
			continue
		}
		out = append(out, c)
	}
	return out
}

var decodeMap = map[byte]byte{
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
	'\\': '\\',
}

var encodeMap = map[byte]byte{
	'\b': 'b',
	'\f': 'f',
	'\n': 'n',
	'\r': 'r',
	'\t': 't',
	'\v': 'v',
	'\\': '\\',
}
