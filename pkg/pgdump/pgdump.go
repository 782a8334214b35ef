// Package pgdump runs pg_dump as a child process and exposes its archive
// output as a buffered stream.
package pgdump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"sync"

	"github.com/kballard/go-shellquote"
)

// Credentials identify the database to dump
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// URL returns the connection URL passed to pg_dump
func (c Credentials) URL() string {
	u := &url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Redacted returns URL with the password masked, for logging
func (c Credentials) Redacted() string {
	u, err := url.Parse(c.URL())
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// Options configures a pg_dump invocation
type Options struct {
	// Path is the pg_dump binary, looked up in PATH when not absolute
	Path        string
	Credentials Credentials
	// ExcludeTableData lists tables whose data pg_dump should not export
	ExcludeTableData []string
	// ExtraArgs is appended to the command line after shell-style splitting
	ExtraArgs string
	// ReadAhead is the size of the buffer between pg_dump and the reader
	ReadAhead int
	// Stderr receives pg_dump's diagnostics. Discarded when nil.
	Stderr io.Writer
}

// Args builds the pg_dump argument list. The archive is always requested in
// custom format without compression so its rows can be rewritten.
func Args(opts Options) ([]string, error) {
	args := []string{
		opts.Credentials.URL(),
		"--format=custom",
		"--compress=0",
	}
	for _, table := range opts.ExcludeTableData {
		args = append(args, "--exclude-table-data="+table)
	}
	if opts.ExtraArgs != "" {
		extra, err := shellquote.Split(opts.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("invalid extra pg_dump arguments: %w", err)
		}
		args = append(args, extra...)
	}
	return args, nil
}

// Process is a running pg_dump
type Process struct {
	cmd     *exec.Cmd
	stdout  *ReadAhead
	cancel  context.CancelFunc
	waitErr error
	once    sync.Once
}

// Start launches pg_dump. The caller must read Stdout until it ends and then
// call Wait, or call Kill to abandon the dump.
func Start(ctx context.Context, opts Options) (*Process, error) {
	args, err := Args(opts)
	if err != nil {
		return nil, err
	}
	path := opts.Path
	if path == "" {
		path = "pg_dump"
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pg_dump stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start pg_dump: %w", err)
	}

	size := opts.ReadAhead
	if size <= 0 {
		size = DefaultReadAhead
	}
	return &Process{
		cmd:    cmd,
		stdout: NewReadAhead(stdout, size),
		cancel: cancel,
	}, nil
}

// Stdout is the archive stream
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Wait drains whatever output remains and waits for pg_dump to exit
func (p *Process) Wait() error {
	p.once.Do(func() {
		_, copyErr := io.Copy(io.Discard, p.stdout)
		err := p.cmd.Wait()
		p.cancel()
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			p.waitErr = fmt.Errorf("pg_dump exited with status %d", exitErr.ExitCode())
		case err != nil:
			p.waitErr = fmt.Errorf("pg_dump: %w", err)
		case copyErr != nil:
			p.waitErr = fmt.Errorf("pg_dump output: %w", copyErr)
		}
	})
	return p.waitErr
}

// Kill stops pg_dump and releases the process
func (p *Process) Kill() {
	p.cancel()
	p.stdout.Close()
	_ = p.Wait()
}
