// Package di provides dependency injection container
package di

import (
	"context"
	"io"

	"github.com/ssargent/pgscrub/pkg/journal"
	"github.com/ssargent/pgscrub/pkg/obfuscate"
	"github.com/ssargent/pgscrub/pkg/pgdump"
)

// DumpSource is a running producer of a custom-format archive
type DumpSource interface {
	Stdout() io.Reader
	// Wait drains the remaining output and reports how the producer exited
	Wait() error
	// Kill abandons the dump
	Kill()
}

// DumpStarter launches a dump
type DumpStarter func(ctx context.Context, opts pgdump.Options) (DumpSource, error)

// ArtifactFactory creates the output for a run
type ArtifactFactory func(path string) (obfuscate.Artifact, error)

// JournalOpener opens the run journal
type JournalOpener func(dir string) (*journal.Journal, error)

// Container holds all the dependencies for the application
type Container struct {
	dumpStarter     DumpStarter
	artifactFactory ArtifactFactory
	journalOpener   JournalOpener
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		dumpStarter: func(ctx context.Context, opts pgdump.Options) (DumpSource, error) {
			proc, err := pgdump.Start(ctx, opts)
			if err != nil {
				return nil, err
			}
			return proc, nil
		},
		artifactFactory: func(path string) (obfuscate.Artifact, error) {
			artifact, err := pgdump.CreateFileArtifact(path)
			if err != nil {
				return nil, err
			}
			return artifact, nil
		},
		journalOpener: journal.Open,
	}
}

// StartDump launches pg_dump
func (c *Container) StartDump(ctx context.Context, opts pgdump.Options) (DumpSource, error) {
	return c.dumpStarter(ctx, opts)
}

// CreateArtifact creates the output at path
func (c *Container) CreateArtifact(path string) (obfuscate.Artifact, error) {
	return c.artifactFactory(path)
}

// OpenJournal opens the run journal in dir
func (c *Container) OpenJournal(dir string) (*journal.Journal, error) {
	return c.journalOpener(dir)
}

// SetDumpStarter allows overriding how dumps are started (for testing)
func (c *Container) SetDumpStarter(starter DumpStarter) {
	c.dumpStarter = starter
}

// SetArtifactFactory allows overriding how outputs are created (for testing)
func (c *Container) SetArtifactFactory(factory ArtifactFactory) {
	c.artifactFactory = factory
}

// SetJournalOpener allows overriding how the journal is opened (for testing)
func (c *Container) SetJournalOpener(opener JournalOpener) {
	c.journalOpener = opener
}
