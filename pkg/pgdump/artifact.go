package pgdump

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const artifactBufferSize = 1 << 20

// FileArtifact is the output archive on local disk. The body is written
// sequentially; Finalize then patches the header at the start of the file.
type FileArtifact struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	size   int64
	done   bool
}

// CreateFileArtifact creates or truncates the file at path
func CreateFileArtifact(path string) (*FileArtifact, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &FileArtifact{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, artifactBufferSize),
	}, nil
}

// Path returns the artifact's location
func (a *FileArtifact) Path() string {
	return a.path
}

// Size returns the number of body bytes written so far
func (a *FileArtifact) Size() int64 {
	return a.size
}

func (a *FileArtifact) Write(p []byte) (int, error) {
	if a.done {
		return 0, os.ErrClosed
	}
	n, err := a.writer.Write(p)
	a.size += int64(n)
	return n, err
}

// Finalize flushes the body, overwrites the start of the file with header
// and closes it. header must not be longer than what was written.
func (a *FileArtifact) Finalize(header []byte) error {
	if a.done {
		return os.ErrClosed
	}
	a.done = true

	if int64(len(header)) > a.size {
		a.file.Close()
		return fmt.Errorf("header of %d bytes exceeds the %d bytes written", len(header), a.size)
	}
	if err := a.writer.Flush(); err != nil {
		a.file.Close()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if _, err := a.file.WriteAt(header, 0); err != nil {
		a.file.Close()
		return fmt.Errorf("failed to patch header: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("failed to sync output: %w", err)
	}
	return a.file.Close()
}

// Abort closes and deletes a partially written artifact
func (a *FileArtifact) Abort() error {
	var closeErr error
	if !a.done {
		a.done = true
		closeErr = a.file.Close()
	}
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove partial output: %w", err)
	}
	return closeErr
}
