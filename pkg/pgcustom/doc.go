// Package pgcustom reads and writes the PostgreSQL pg_dump "custom" archive
// format.
//
// The package understands enough of the format to rewrite an archive that was
// produced with --format=custom: the prelude, the header scalar fields, the
// table of contents (TOC) and the framed data blocks that follow the header.
//
// # Archive Layout
//
//	[Prelude(11)][Head][TocEntry...][DataBlock...]
//
// The prelude is fixed size:
//
//	[Magic "PGDMP"(5)][Major(1)][Minor(1)][Patch(1)][IntSize(1)][OffSize(1)][Format(1)]
//
// Only archive versions 1.13.0 and 1.14.0 are accepted, with 4 byte integers,
// 8 byte offsets and the Custom format code. Anything else is rejected with a
// *FormatError before the header is touched.
//
// # Primitive Encodings
//
// Integers are sign-magnitude: one sign byte (0 = non-negative,
// 1 = negative) followed by the absolute value as a 4 byte little-endian
// integer. -5 is encoded as:
//
//	01 05 00 00 00
//
// Strings are an integer length followed by that many bytes of UTF-8 text.
// A length of -1 is SQL NULL and a length of 0 is the empty string; neither
// carries a payload. String arrays are a run of non-null strings terminated by
// a null string.
//
// Offsets are a single flag byte followed by an 8 byte little-endian value
// which is only meaningful when the flag is OffsetSet. The value bytes are
// present in every flag state.
//
// # Data Blocks
//
// Each table's data is introduced by a data block head (the byte 0x01 and the
// owning TOC entry's dump id) and consists of length-prefixed chunks ended by
// a chunk length <= 0:
//
//	[0x01][DumpID int][Len int][Bytes]...[Len int][Bytes][0 int]
//
// DataBlockWriter produces this framing and reports the exact number of bytes
// written, which the caller uses to fill in the TOC offsets that pg_restore
// needs for parallel restore.
//
// # Error Handling
//
// Decoding failures are reported as *FormatError (structural problems),
// *TruncationError (input ended early) or *ReferenceError (a data block names
// an unknown TOC entry). None of them are recoverable: the read position in
// the archive cannot be trusted afterwards.
package pgcustom
