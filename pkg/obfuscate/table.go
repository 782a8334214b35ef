package obfuscate

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"

	"github.com/ssargent/pgscrub/pkg/copytext"
	"github.com/ssargent/pgscrub/pkg/mapping"
	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

type tableStats struct {
	rows    int64
	omitted int64
}

// table rewrites the data block of entry, which starts at pos in the output,
// and returns the position just past it.
//
// The block is processed by three stages connected by bounded buffers:
// reading raw rows, transforming and compressing them, and framing the
// compressed stream into the output.
func (o *obfuscator) table(ctx context.Context, pos int64, entry *pgcustom.TocEntry) (int64, TableResult, error) {
	start := time.Now()
	entry.Offset = pgcustom.SetOffset(pos)

	plan, err := o.resolver.Resolve(entry)
	if err != nil {
		return pos, TableResult{}, err
	}
	mode := ModePassthrough
	switch {
	case plan == nil:
	case plan.Omit:
		mode = ModeOmitted
	default:
		mode = ModeTransformed
	}

	block := pgcustom.NewDataBlockWriter(o.out, entry.DumpID)
	rows := make(chan []byte, o.rowBuffer)
	pr, pw := io.Pipe()
	stats := &tableStats{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.readRows(gctx, rows)
	})
	g.Go(func() error {
		err := encodeRows(gctx, entry, plan, rows, pw, stats)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := frame(pr, block, o.chunkSize)
		if err != nil {
			pr.CloseWithError(err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return pos, TableResult{}, err
	}

	tr := TableResult{
		DumpID:      entry.DumpID,
		Table:       entry.Name(),
		Offset:      pos,
		Rows:        stats.rows,
		OmittedRows: stats.omitted,
		Bytes:       block.BytesWritten(),
		Mode:        mode,
		Duration:    time.Since(start),
	}
	o.metrics.RecordTable(tr.Table, string(tr.Mode), tr.Rows, tr.OmittedRows, tr.Bytes, tr.Duration)
	o.logger.Info("table rewritten",
		"table", tr.Table,
		"dump_id", tr.DumpID,
		"offset", tr.Offset,
		"rows", tr.Rows,
		"size", humanize.Bytes(uint64(tr.Bytes)),
		"mode", string(tr.Mode))

	return pos + block.BytesWritten(), tr, nil
}

// readRows feeds the chunks of the current data block into rows. The channel
// is closed only when the block ended cleanly.
func (o *obfuscator) readRows(ctx context.Context, rows chan<- []byte) error {
	it := o.reader.Chunks()
	for it.Next() {
		select {
		case rows <- it.Chunk():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	close(rows)
	return nil
}

// encodeRows applies plan to every row and writes the zlib compressed result
// to w. A nil plan passes rows through untouched.
func encodeRows(ctx context.Context, entry *pgcustom.TocEntry, plan *mapping.Plan, rows <-chan []byte, w io.Writer, stats *tableStats) error {
	zw, err := zlib.NewWriterLevel(w, zlib.BestCompression)
	if err != nil {
		return err
	}

	var buf []byte
	ended := false
	for {
		var chunk []byte
		var ok bool
		select {
		case chunk, ok = <-rows:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return zw.Close()
		}

		if ended {
			return &SequenceError{DumpID: entry.DumpID, Table: entry.Name()}
		}
		if copytext.IsEndOfData(chunk) {
			ended = true
			if _, err := zw.Write(chunk); err != nil {
				return err
			}
			continue
		}

		switch {
		case plan == nil:
			if _, err := zw.Write(chunk); err != nil {
				return err
			}
		case plan.Omit:
			stats.omitted++
			continue
		default:
			cols, err := copytext.ParseRow(chunk)
			if err != nil {
				return err
			}
			mapped, err := plan.Apply(cols)
			if err != nil {
				return err
			}
			buf = copytext.AppendRow(buf[:0], mapped)
			if _, err := zw.Write(buf); err != nil {
				return err
			}
		}
		stats.rows++
	}
}

// frame cuts the compressed stream into chunks of chunkSize bytes and frames
// them into block, closing the block once the stream ends.
func frame(r io.Reader, block *pgcustom.DataBlockWriter, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := block.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return block.Close()
		}
		if err != nil {
			return err
		}
	}
}
