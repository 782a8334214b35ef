package pgcustom

import "fmt"

// FormatError reports archive content that does not match the expected structure
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return "pgcustom: format error: " + e.Message
}

// ReferenceError reports a data block that cannot be tied to a data-bearing TOC entry
type ReferenceError struct {
	DumpID  int
	Message string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("pgcustom: data block references dump id %d: %s", e.DumpID, e.Message)
}

// TruncationError reports input that ended before a read could be satisfied
type TruncationError struct {
	Want int
	Got  int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("pgcustom: input ended early: wanted %d bytes, got %d", e.Want, e.Got)
}
