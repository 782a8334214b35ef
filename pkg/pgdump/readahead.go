package pgdump

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// DefaultReadAhead lets pg_dump run ahead of the rewriter while a table's
// rows are being compressed
const DefaultReadAhead = 20 * 1024 * 1024

const readAheadChunk = 64 * 1024

var errReadAheadClosed = errors.New("pgdump: read-ahead buffer closed")

// ReadAhead reads from a source on its own goroutine, holding up to size
// bytes until they are consumed.
type ReadAhead struct {
	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	cur      []byte
	err      error // valid once chunks is closed
}

// NewReadAhead starts reading r in the background
func NewReadAhead(r io.Reader, size int) *ReadAhead {
	if size <= 0 {
		size = DefaultReadAhead
	}
	chunkSize := min(readAheadChunk, size)
	ra := &ReadAhead{
		chunks: make(chan []byte, max(size/chunkSize, 1)),
		stop:   make(chan struct{}),
	}
	go ra.fill(r, chunkSize)
	return ra
}

func (ra *ReadAhead) fill(r io.Reader, chunkSize int) {
	defer close(ra.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case ra.chunks <- buf[:n]:
			case <-ra.stop:
				ra.err = errReadAheadClosed
				return
			}
		}
		if err != nil {
			ra.err = err
			return
		}
	}
}

// Read returns buffered bytes, blocking until some are available. It returns
// the source's terminal error, usually io.EOF, once the buffer is drained.
func (ra *ReadAhead) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(ra.cur) == 0 {
		chunk, ok := <-ra.chunks
		if !ok {
			return 0, ra.err
		}
		ra.cur = chunk
	}
	n := copy(p, ra.cur)
	ra.cur = ra.cur[n:]
	return n, nil
}

// Close stops the background reader once its current read returns
func (ra *ReadAhead) Close() error {
	ra.stopOnce.Do(func() { close(ra.stop) })
	return nil
}

// LogWriter forwards pg_dump diagnostics to a logger, one record per line
type LogWriter struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func NewLogWriter(logger *slog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that had no newline
func (w *LogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *LogWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	w.logger.Warn("pg_dump", "message", string(line))
}
