package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/pgscrub/pkg/obfuscate"
	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndGet(t *testing.T) {
	j := openJournal(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &Run{
		Command:   "dump",
		Source:    "postgresql://postgres@localhost:5432/app",
		Output:    "/backups/app.pgcustom",
		StartedAt: started,
	}
	run.Complete(&obfuscate.Result{
		Version:      pgcustom.Version1_14_0,
		BytesWritten: 4096,
		Tables: []obfuscate.TableResult{
			{DumpID: 10, Table: "users", Mode: obfuscate.ModeTransformed, Offset: 512, Rows: 3, Bytes: 100},
			{DumpID: 12, Table: "audit_log", Mode: obfuscate.ModeOmitted, Offset: 612, OmittedRows: 2, Bytes: 20},
		},
	}, nil, started.Add(90*time.Second))

	id, err := j.Record(run)
	require.NoError(t, err)
	assert.False(t, id.IsNil())
	assert.Equal(t, started.Unix(), id.Time().Unix())

	got, err := j.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "1.14.0", got.Version)
	assert.Equal(t, 90*time.Second, got.Duration())
	require.Len(t, got.Tables, 2)
	assert.Equal(t, TableSummary{DumpID: 12, Table: "audit_log", Mode: "omitted", Offset: 612, OmittedRows: 2, Bytes: 20}, got.Tables[1])
	assert.True(t, started.Equal(got.StartedAt))
}

func TestJournal_FailedRun(t *testing.T) {
	j := openJournal(t)

	run := &Run{Command: "obfuscate", Source: "in.pgcustom", StartedAt: time.Now()}
	run.Complete(nil, errors.New("toc entry 3: truncated"), time.Now())

	id, err := j.Record(run)
	require.NoError(t, err)

	got, err := j.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "toc entry 3: truncated", got.Error)
	assert.Empty(t, got.Tables)
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := openJournal(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []ksuid.KSUID
	for i := 0; i < 5; i++ {
		id, err := j.Record(&Run{Command: "dump", StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, run := range all {
		assert.Equal(t, ids[4-i], run.ID)
	}

	latest, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, ids[4], latest[0].ID)
	assert.Equal(t, ids[3], latest[1].ID)
}

func TestJournal_NotFoundAndDelete(t *testing.T) {
	j := openJournal(t)

	_, err := j.Get(ksuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := j.Record(&Run{Command: "dump", StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, j.Delete(id))

	_, err = j.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := j.List(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
