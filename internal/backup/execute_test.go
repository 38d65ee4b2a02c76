package backup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidmesh/backhaul/internal/models"
)

type fakeRunStore struct {
	mu        sync.Mutex
	nextID    int
	createErr error
	updateErr error
	creates   int
	updates   []models.RunUpdate
}

func (s *fakeRunStore) CreateRun(ctx context.Context, jobID uuid.UUID, deviceID string, triggeredBy models.TriggerCause) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.creates++
	s.nextID++
	return s.nextID, nil
}

func (s *fakeRunStore) UpdateRun(ctx context.Context, update models.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return s.updateErr
}

type staticConfig struct {
	cfg EngineConfig
	err error
}

func (c staticConfig) EngineConfig() (EngineConfig, error) {
	return c.cfg, c.err
}

func newTestRunner(t *testing.T, store *fakeRunStore, stdout, stderr string, exitCode int) *Runner {
	t.Helper()
	restic := NewResticWithBinary(fakeRestic(t, stdout, stderr, exitCode), zerolog.Nop())
	return NewRunner(store, restic, staticConfig{cfg: testEngineConfig()}, zerolog.Nop())
}

func TestRunner_Execute_Success(t *testing.T) {
	stdout := `{"message_type":"status","percent_done":1.0}
{"message_type":"summary","snapshot_id":"snap1","files_new":10,"files_changed":5,"files_unmodified":85,"data_added":1048576}`
	store := &fakeRunStore{}
	runner := newTestRunner(t, store, stdout, "", 0)

	runID, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, 1, runID)

	require.Len(t, store.updates, 1)
	update := store.updates[0]
	assert.Equal(t, models.RunStatusSuccess, update.Status)
	require.NotNil(t, update.ExitCode)
	assert.Equal(t, 0, *update.ExitCode)
	require.NotNil(t, update.SnapshotID)
	assert.Equal(t, "snap1", *update.SnapshotID)
	require.NotNil(t, update.FilesNew)
	assert.Equal(t, 10, *update.FilesNew)
	require.NotNil(t, update.DataAddedBytes)
	assert.Equal(t, int64(1048576), *update.DataAddedBytes)
	assert.Nil(t, update.ErrorMessage)
	assert.Nil(t, update.EngineErrors)
}

func TestRunner_Execute_SuccessKeepsStderr(t *testing.T) {
	stdout := `{"message_type":"summary","snapshot_id":"snap1"}`
	store := &fakeRunStore{}
	runner := newTestRunner(t, store, stdout, "warning: unreadable file", 0)

	_, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	require.NotNil(t, store.updates[0].EngineErrors)
	assert.Equal(t, "warning: unreadable file", *store.updates[0].EngineErrors)
}

func TestRunner_Execute_NonZeroExit(t *testing.T) {
	store := &fakeRunStore{}
	runner := newTestRunner(t, store, "", "Fatal: repository locked", 1)

	runID, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.Error(t, err)
	assert.Equal(t, 1, runID)

	require.Len(t, store.updates, 1)
	update := store.updates[0]
	assert.Equal(t, models.RunStatusFailed, update.Status)
	require.NotNil(t, update.ExitCode)
	assert.Equal(t, 1, *update.ExitCode)
	require.NotNil(t, update.ErrorMessage)
	assert.Equal(t, "Fatal: repository locked", *update.ErrorMessage)
}

func TestRunner_Execute_NonZeroExitEmptyStderr(t *testing.T) {
	store := &fakeRunStore{}
	runner := newTestRunner(t, store, "", "", 3)

	_, err := runner.Execute(context.Background(), testJob(), models.TriggerManual, "trace-1")
	require.Error(t, err)

	require.Len(t, store.updates, 1)
	require.NotNil(t, store.updates[0].ErrorMessage)
	assert.Equal(t, fallbackErrorMessage, *store.updates[0].ErrorMessage)
}

func TestRunner_Execute_SpawnFailure(t *testing.T) {
	store := &fakeRunStore{}
	restic := NewResticWithBinary(filepath.Join(t.TempDir(), "missing"), zerolog.Nop())
	runner := NewRunner(store, restic, staticConfig{cfg: testEngineConfig()}, zerolog.Nop())

	runID, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.Error(t, err)
	assert.Equal(t, 1, runID)

	require.Len(t, store.updates, 1)
	update := store.updates[0]
	assert.Equal(t, models.RunStatusFailed, update.Status)
	assert.Nil(t, update.ExitCode)
	require.NotNil(t, update.ErrorMessage)
}

func TestRunner_Execute_ParseFailure(t *testing.T) {
	// Exit zero with no summary line still fails the run.
	stdout := `{"message_type":"status","percent_done":1.0}`
	store := &fakeRunStore{}
	runner := newTestRunner(t, store, stdout, "", 0)

	_, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSummary)

	require.Len(t, store.updates, 1)
	update := store.updates[0]
	assert.Equal(t, models.RunStatusFailed, update.Status)
	require.NotNil(t, update.ExitCode)
	assert.Equal(t, 0, *update.ExitCode)
	require.NotNil(t, update.EngineOutput)
	assert.Equal(t, stdout, *update.EngineOutput)
}

func TestRunner_Execute_ConfigError(t *testing.T) {
	store := &fakeRunStore{}
	restic := NewResticWithBinary("restic", zerolog.Nop())
	runner := NewRunner(store, restic, staticConfig{err: ErrConfiguration}, zerolog.Nop())

	runID, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 1, runID)

	require.Len(t, store.updates, 1)
	assert.Equal(t, models.RunStatusFailed, store.updates[0].Status)
	assert.Nil(t, store.updates[0].ExitCode)
}

func TestRunner_Execute_CreateRunFailure(t *testing.T) {
	store := &fakeRunStore{createErr: errors.New("connection refused")}
	runner := newTestRunner(t, store, "", "", 0)

	runID, err := runner.Execute(context.Background(), testJob(), models.TriggerSchedule, "trace-1")
	require.Error(t, err)
	assert.Zero(t, runID)
	assert.Empty(t, store.updates)
}
