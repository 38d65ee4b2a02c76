package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidmesh/backhaul/internal/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	snapshot := "abc123"
	exitCode := 0
	first := Entry{
		RunID:      1,
		JobID:      uuid.New(),
		JobName:    "home",
		Status:     models.RunStatusSuccess,
		EndTime:    time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
		ExitCode:   &exitCode,
		SnapshotID: &snapshot,
	}
	require.NoError(t, j.Append(ctx, first))

	msg := "repository locked"
	second := Entry{
		RunID:        2,
		JobID:        first.JobID,
		JobName:      "home",
		Status:       models.RunStatusFailed,
		EndTime:      time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC),
		ErrorMessage: &msg,
	}
	require.NoError(t, j.Append(ctx, second))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 2, entries[0].RunID)
	assert.Equal(t, models.RunStatusFailed, entries[0].Status)
	require.NotNil(t, entries[0].ErrorMessage)
	assert.Equal(t, "repository locked", *entries[0].ErrorMessage)
	assert.Nil(t, entries[0].SnapshotID)

	assert.Equal(t, 1, entries[1].RunID)
	require.NotNil(t, entries[1].SnapshotID)
	assert.Equal(t, "abc123", *entries[1].SnapshotID)
	assert.Equal(t, first.EndTime, entries[1].EndTime)
}

func TestJournal_RecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, Entry{
			RunID:   i + 1,
			JobID:   uuid.New(),
			JobName: "home",
			Status:  models.RunStatusSuccess,
			EndTime: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 5, entries[0].RunID)
}

func TestJournal_RecordRun(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	job := &models.BackupJob{ID: uuid.New(), Name: "home"}
	snapshot := "snap1"
	update := models.RunUpdate{
		RunID:      7,
		EndTime:    time.Now().UTC(),
		Status:     models.RunStatusSuccess,
		SnapshotID: &snapshot,
	}
	require.NoError(t, j.RecordRun(ctx, job, update))

	entries, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].RunID)
	assert.Equal(t, job.ID, entries[0].JobID)
	assert.Equal(t, "home", entries[0].JobName)
}

func TestJournal_EmptyRecent(t *testing.T) {
	j := openTestJournal(t)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
