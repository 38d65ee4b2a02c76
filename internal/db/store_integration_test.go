//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voidmesh/backhaul/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("backhaul_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	testDB, err = New(ctx, DefaultConfig(connStr), zerolog.Nop())
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Pool.Exec(ctx,
		"TRUNCATE devices, backup_jobs, schedules, runs, settings CASCADE")
	require.NoError(t, err)
	return testDB
}

func registerDevice(t *testing.T, db *DB, id string) {
	t.Helper()
	name := id
	require.NoError(t, db.UpsertDevice(context.Background(), &models.Device{ID: id, Name: &name}))
}

func insertJob(t *testing.T, db *DB, deviceID, name string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.Pool.QueryRow(context.Background(), `
		INSERT INTO backup_jobs (device_id, name, source_paths, exclude_patterns, tags)
		VALUES ($1, $2, '{"/home"}', '{"*.tmp"}', '{"nightly"}')
		RETURNING id
	`, deviceID, name).Scan(&id)
	require.NoError(t, err)
	return id
}

func insertIntervalSchedule(t *testing.T, db *DB, jobID uuid.UUID, seconds int) int {
	t.Helper()
	var id int
	err := db.Pool.QueryRow(context.Background(), `
		INSERT INTO schedules (job_id, kind, interval_seconds)
		VALUES ($1, 'interval', $2)
		RETURNING id
	`, jobID, seconds).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestUpsertDevice(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")

	device, err := db.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.True(t, device.Enabled)
	require.NotNil(t, device.LastSeen)
	firstSeen := *device.LastSeen

	// Upserting again refreshes last_seen without erroring.
	time.Sleep(10 * time.Millisecond)
	registerDevice(t, db, "device-1")
	device, err = db.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, device.LastSeen.After(firstSeen))
}

func TestGetDevice_Missing(t *testing.T) {
	db := setupTestDB(t)

	device, err := db.GetDevice(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, device)
}

func TestGetJobsForDevice(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	registerDevice(t, db, "device-2")
	insertJob(t, db, "device-1", "home")
	insertJob(t, db, "device-2", "other")

	jobs, err := db.GetJobsForDevice(ctx, "device-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "home", jobs[0].Name)
	assert.Equal(t, []string{"/home"}, jobs[0].SourcePaths)
	assert.Equal(t, []string{"*.tmp"}, jobs[0].ExcludePatterns)
}

func TestGetJobsForDevice_SkipsDisabled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	jobID := insertJob(t, db, "device-1", "home")
	_, err := db.Pool.Exec(ctx, "UPDATE backup_jobs SET enabled = FALSE WHERE id = $1", jobID)
	require.NoError(t, err)

	jobs, err := db.GetJobsForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGetJobByID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	jobID := insertJob(t, db, "device-1", "home")

	job, err := db.GetJobByID(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)

	missing, err := db.GetJobByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScheduleRunTimes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	jobID := insertJob(t, db, "device-1", "home")
	insertIntervalSchedule(t, db, jobID, 3600)

	schedules, err := db.GetSchedulesForDevice(ctx, "device-1")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Nil(t, schedules[0].NextRunAt)
	assert.Equal(t, models.ScheduleKindInterval, schedules[0].Kind)

	now := time.Now().UTC().Truncate(time.Microsecond)
	next := now.Add(time.Hour)
	require.NoError(t, db.UpdateScheduleRunTimes(ctx, jobID, now, &next))

	schedules, err = db.GetSchedulesForDevice(ctx, "device-1")
	require.NoError(t, err)
	require.NotNil(t, schedules[0].LastRunAt)
	require.NotNil(t, schedules[0].NextRunAt)
	assert.Equal(t, now.Unix(), schedules[0].LastRunAt.Unix())
	assert.Equal(t, next.Unix(), schedules[0].NextRunAt.Unix())
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	jobID := insertJob(t, db, "device-1", "home")

	runID, err := db.CreateRun(ctx, jobID, "device-1", models.TriggerSchedule)
	require.NoError(t, err)
	assert.Positive(t, runID)

	exitCode := 0
	snapshot := "abc123"
	filesNew := 10
	update := models.RunUpdate{
		RunID:      runID,
		EndTime:    time.Now().UTC(),
		Status:     models.RunStatusSuccess,
		ExitCode:   &exitCode,
		FilesNew:   &filesNew,
		SnapshotID: &snapshot,
	}
	require.NoError(t, db.UpdateRun(ctx, update))

	runs, err := db.GetRecentRuns(ctx, "device-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
	require.NotNil(t, runs[0].SnapshotID)
	assert.Equal(t, "abc123", *runs[0].SnapshotID)
	require.NotNil(t, runs[0].FilesNew)
	assert.Equal(t, 10, *runs[0].FilesNew)
	assert.Equal(t, models.TriggerSchedule, runs[0].TriggeredBy)
}

func TestUpdateRun_Missing(t *testing.T) {
	db := setupTestDB(t)

	err := db.UpdateRun(context.Background(), models.RunUpdate{
		RunID:   99999,
		EndTime: time.Now().UTC(),
		Status:  models.RunStatusFailed,
	})
	require.Error(t, err)
}

func TestGetRecentRuns_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	jobID := insertJob(t, db, "device-1", "home")

	for i := 0; i < 3; i++ {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO runs (job_id, device_id, status, start_time)
			VALUES ($1, 'device-1', 'success', NOW() - make_interval(mins => $2))
		`, jobID, 10-i)
		require.NoError(t, err)
	}

	runs, err := db.GetRecentRuns(ctx, "device-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartTime.After(runs[1].StartTime))
}

func TestGetSettingsForDevice(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	registerDevice(t, db, "device-1")
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO settings (device_id, key, value) VALUES
		('device-1', 'repository_url', '/srv/repo'),
		('device-1', 'repository_password', 'secret')
	`)
	require.NoError(t, err)

	settings, err := db.GetSettingsForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "/srv/repo", settings["repository_url"])
	assert.Equal(t, "secret", settings["repository_password"])

	empty, err := db.GetSettingsForDevice(ctx, "device-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
