// Package journal keeps a local history of obfuscation runs in a pebble
// database, keyed by time-ordered KSUIDs.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"

	"github.com/ssargent/pgscrub/pkg/obfuscate"
)

var runPrefix = []byte("run/")

// ErrNotFound is returned when no run has the requested id
var ErrNotFound = errors.New("journal: run not found")

// Status is the outcome of a run
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TableSummary records where one table's data block was written
type TableSummary struct {
	DumpID      int    `json:"dump_id"`
	Table       string `json:"table"`
	Mode        string `json:"mode"`
	Offset      int64  `json:"offset"`
	Rows        int64  `json:"rows"`
	OmittedRows int64  `json:"omitted_rows,omitempty"`
	Bytes       int64  `json:"bytes"`
}

// Run is one journal entry
type Run struct {
	ID           ksuid.KSUID    `json:"id"`
	Command      string         `json:"command"`
	Source       string         `json:"source"`
	Output       string         `json:"output"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Status       Status         `json:"status"`
	Error        string         `json:"error,omitempty"`
	Version      string         `json:"archive_version,omitempty"`
	BytesWritten int64          `json:"bytes_written"`
	Tables       []TableSummary `json:"tables,omitempty"`
}

// Duration is how long the run took
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Complete fills in the outcome of a run from the obfuscation result or error
func (r *Run) Complete(res *obfuscate.Result, err error, finished time.Time) {
	r.FinishedAt = finished
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
	r.Version = res.Version.String()
	r.BytesWritten = res.BytesWritten
	r.Tables = make([]TableSummary, 0, len(res.Tables))
	for _, t := range res.Tables {
		r.Tables = append(r.Tables, TableSummary{
			DumpID:      t.DumpID,
			Table:       t.Table,
			Mode:        string(t.Mode),
			Offset:      t.Offset,
			Rows:        t.Rows,
			OmittedRows: t.OmittedRows,
			Bytes:       t.Bytes,
		})
	}
}

// Journal is the run history store
type Journal struct {
	db *pebble.DB
}

// Open opens or creates the journal in dir
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func runKey(id ksuid.KSUID) []byte {
	key := make([]byte, 0, len(runPrefix)+len(ksuid.KSUID{}))
	key = append(key, runPrefix...)
	return append(key, id.Bytes()...)
}

// Record stores run, assigning it an id derived from its start time when it
// has none
func (j *Journal) Record(run *Run) (ksuid.KSUID, error) {
	if run.ID.IsNil() {
		id, err := ksuid.NewRandomWithTime(run.StartedAt)
		if err != nil {
			return ksuid.Nil, err
		}
		run.ID = id
	}

	data, err := json.Marshal(run)
	if err != nil {
		return ksuid.Nil, fmt.Errorf("failed to encode run: %w", err)
	}
	if err := j.db.Set(runKey(run.ID), data, pebble.Sync); err != nil {
		return ksuid.Nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run.ID, nil
}

// Get returns the run with id
func (j *Journal) Get(id ksuid.KSUID) (*Run, error) {
	data, closer, err := j.db.Get(runKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

// List returns up to limit runs, newest first. A limit of 0 returns all.
func (j *Journal) List(limit int) ([]*Run, error) {
	upper := append([]byte(nil), runPrefix...)
	upper[len(upper)-1]++

	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: runPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []*Run
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var run Run
		if err := json.Unmarshal(iter.Value(), &run); err != nil {
			return nil, fmt.Errorf("failed to decode run at %x: %w", iter.Key(), err)
		}
		runs = append(runs, &run)
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Delete removes a run
func (j *Journal) Delete(id ksuid.KSUID) error {
	return j.db.Delete(runKey(id), pebble.Sync)
}

func (j *Journal) Close() error {
	return j.db.Close()
}
