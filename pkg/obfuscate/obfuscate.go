// Package obfuscate rewrites a pg_dump custom archive, replacing column data
// according to table mappings while keeping the archive restorable in
// parallel.
//
// The input is read exactly once. The rewritten header is written first with
// every offset cleared, each table's data block is rewritten in the order it
// appears in the input, and the header is encoded again at the end with the
// offsets of the blocks just written. Callers patch that final header over the
// start of the output so pg_restore can seek straight to any table.
package obfuscate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ssargent/pgscrub/internal/logging"
	"github.com/ssargent/pgscrub/pkg/mapping"
	"github.com/ssargent/pgscrub/pkg/metrics"
	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

const (
	defaultRowBuffer = 1024
	defaultChunkSize = 16 * 1024
)

// Mode describes how a table's rows were handled
type Mode string

const (
	ModePassthrough Mode = "passthrough"
	ModeTransformed Mode = "transformed"
	ModeOmitted     Mode = "omitted"
)

// Options configures a run
type Options struct {
	Mappings  mapping.TableColumnMappings
	Transform mapping.Options
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// RowBuffer bounds the rows queued between reading and encoding
	RowBuffer int
	// ChunkSize is the size of the compressed chunks framed into a data block
	ChunkSize int
}

// TableResult summarizes one rewritten data block
type TableResult struct {
	DumpID      int
	Table       string
	Offset      int64
	Rows        int64
	OmittedRows int64
	Bytes       int64
	Mode        Mode
	Duration    time.Duration
}

// Result is the outcome of a successful run
type Result struct {
	// Header is the final header, with every data offset set. It has the same
	// length as the header written at the start of the output.
	Header  []byte
	Version pgcustom.Version
	Tables  []TableResult
	// BytesWritten is the total size of the output
	BytesWritten int64
}

// SequenceError reports data that follows a table's end-of-data marker
type SequenceError struct {
	DumpID int
	Table  string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("obfuscate: table %s (dump id %d) received data after the end-of-data marker", e.Table, e.DumpID)
}

// Obfuscate reads a custom archive from in and writes the rewritten archive to
// out. It does not close out. Any error aborts the run; whatever was written
// to out must then be discarded.
func Obfuscate(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Result, error) {
	start := time.Now()
	res, err := run(ctx, in, out, opts)
	opts.Metrics.RecordRun(err == nil, time.Since(start))
	return res, err
}

type obfuscator struct {
	reader    *pgcustom.Reader
	resolver  *mapping.Resolver
	out       io.Writer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	rowBuffer int
	chunkSize int
}

func run(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	prelude, reader, head, err := pgcustom.ReadHeader(in)
	if err != nil {
		return nil, err
	}
	if head.Compression != 0 {
		return nil, &pgcustom.FormatError{Message: fmt.Sprintf("archive is compressed (level %d); dump with --compress=0", head.Compression)}
	}
	dataBlocks := head.DataEntryCount()
	logger.Info("header consumed",
		"version", reader.Version().String(),
		"toc_entries", len(head.Entries),
		"data_blocks", dataBlocks)

	head.ResetForRewrite(pgcustom.MaxCompression)
	enc, err := pgcustom.NewEncoder(prelude)
	if err != nil {
		return nil, err
	}
	header, err := enc.EncodeHeader(prelude, head)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if _, err := out.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	opts.Metrics.RecordHeader(len(header))

	o := &obfuscator{
		reader:    reader,
		resolver:  mapping.NewResolver(opts.Mappings, opts.Transform, logger),
		out:       out,
		logger:    logger,
		metrics:   opts.Metrics,
		rowBuffer: opts.RowBuffer,
		chunkSize: opts.ChunkSize,
	}
	if o.rowBuffer <= 0 {
		o.rowBuffer = defaultRowBuffer
	}
	if o.chunkSize <= 0 {
		o.chunkSize = defaultChunkSize
	}

	res := &Result{Version: reader.Version(), Tables: make([]TableResult, 0, dataBlocks)}
	written := make(map[int]bool, dataBlocks)

	// Tables are handled strictly one after another: each offset is the
	// running position after every previously written block.
	pos := int64(len(header))
	for i := 0; i < dataBlocks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blockHead, err := reader.ReadDataBlockHead()
		if err != nil {
			return nil, fmt.Errorf("data block %d: %w", i, err)
		}
		entry, err := head.DataEntry(blockHead.DumpID)
		if err != nil {
			return nil, err
		}
		if written[entry.DumpID] {
			return nil, &pgcustom.ReferenceError{DumpID: entry.DumpID, Message: "data block appears more than once"}
		}
		written[entry.DumpID] = true

		var tr TableResult
		pos, tr, err = o.table(ctx, pos, entry)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", entry.Name(), err)
		}
		res.Tables = append(res.Tables, tr)
	}

	final, err := enc.EncodeHeader(prelude, head)
	if err != nil {
		return nil, fmt.Errorf("encode final header: %w", err)
	}
	if len(final) != len(header) {
		return nil, fmt.Errorf("final header is %d bytes, initial header was %d", len(final), len(header))
	}
	res.Header = final
	res.BytesWritten = pos

	logger.Info("archive rewritten",
		"tables", len(res.Tables),
		"size", humanize.Bytes(uint64(pos)))
	return res, nil
}

// Artifact is an output whose start can be patched once the body is written.
// Abort discards the artifact, including one that was already finalized.
type Artifact interface {
	io.Writer
	Finalize(header []byte) error
	Abort() error
}

// ToArtifact runs Obfuscate into a. On success the corrected header is
// patched in through Finalize; on failure the artifact is aborted.
func ToArtifact(ctx context.Context, in io.Reader, a Artifact, opts Options) (*Result, error) {
	res, err := Obfuscate(ctx, in, a, opts)
	if err != nil {
		if abortErr := a.Abort(); abortErr != nil {
			return nil, errors.Join(err, abortErr)
		}
		return nil, err
	}
	if err := a.Finalize(res.Header); err != nil {
		return nil, fmt.Errorf("finalize output: %w", err)
	}
	return res, nil
}
