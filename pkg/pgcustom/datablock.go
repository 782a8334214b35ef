package pgcustom

import (
	"io"
)

// DataBlockWriter frames a table's data as a custom archive data block.
// Every Write becomes one length-prefixed chunk; the data block head is
// emitted ahead of the first chunk and Close appends the zero terminator.
type DataBlockWriter struct {
	w       io.Writer
	dumpID  int
	started bool
	closed  bool
	written int64
	prefix  []byte
}

// NewDataBlockWriter creates a framer for the data block owned by dumpID
func NewDataBlockWriter(w io.Writer, dumpID int) *DataBlockWriter {
	return &DataBlockWriter{
		w:      w,
		dumpID: dumpID,
		prefix: make([]byte, 0, 2*(1+IntSize)),
	}
}

// Write frames p as a single chunk. Empty writes are ignored because a zero
// length would end the block.
func (d *DataBlockWriter) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}

	d.prefix = d.prefix[:0]
	if !d.started {
		d.prefix = AppendDataBlockHead(d.prefix, d.dumpID)
	}
	prefix, err := AppendInt(d.prefix, len(p))
	if err != nil {
		return 0, err
	}
	if err := d.emit(prefix); err != nil {
		return 0, err
	}
	d.started = true
	if err := d.emit(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the block terminator, preceded by the block head when no
// chunk was ever written.
func (d *DataBlockWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	d.prefix = d.prefix[:0]
	if !d.started {
		d.prefix = AppendDataBlockHead(d.prefix, d.dumpID)
		d.started = true
	}
	tail, err := AppendInt(d.prefix, 0)
	if err != nil {
		return err
	}
	return d.emit(tail)
}

// BytesWritten returns the number of framed bytes handed to the sink so far
func (d *DataBlockWriter) BytesWritten() int64 {
	return d.written
}

func (d *DataBlockWriter) emit(p []byte) error {
	n, err := d.w.Write(p)
	d.written += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}

// AppendDataBlockHead appends the type byte and dump id that open a data block
func AppendDataBlockHead(dst []byte, dumpID int) []byte {
	dst = append(dst, DataBlockType)
	// dump ids are small positive integers; AppendInt cannot fail for them
	out, err := AppendInt(dst, dumpID)
	if err != nil {
		panic(err)
	}
	return out
}
