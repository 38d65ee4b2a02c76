package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voidmesh/backhaul/internal/models"
)

// Device methods

// UpsertDevice registers the device or refreshes its last_seen and platform
// details if it already exists.
func (db *DB) UpsertDevice(ctx context.Context, device *models.Device) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (id, name, platform, hostname, last_seen, enabled)
		VALUES ($1, $2, $3, $4, NOW(), TRUE)
		ON CONFLICT (id) DO UPDATE SET
			platform = EXCLUDED.platform,
			hostname = EXCLUDED.hostname,
			last_seen = NOW(),
			updated_at = NOW()
	`, device.ID, device.Name, device.Platform, device.Hostname)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}

	db.logger.Info().Str("device_id", device.ID).Msg("device registered")
	return nil
}

// GetDevice returns a device by ID, or (nil, nil) when it does not exist.
func (db *DB) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, description, platform, hostname, last_seen, enabled, metadata, created_at, updated_at
		FROM devices
		WHERE id = $1
	`, id).Scan(
		&device.ID, &device.Name, &device.Description, &device.Platform,
		&device.Hostname, &device.LastSeen, &device.Enabled, &device.Metadata,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &device, nil
}

// Job methods

const jobColumns = `id, device_id, name, source_paths, exclude_patterns, tags,
	engine_args, enabled, origin_name, origin_id, account_id, created_at, updated_at`

func scanJob(row pgx.Row) (*models.BackupJob, error) {
	var job models.BackupJob
	err := row.Scan(
		&job.ID, &job.DeviceID, &job.Name, &job.SourcePaths, &job.ExcludePatterns,
		&job.Tags, &job.EngineArgs, &job.Enabled, &job.OriginName, &job.OriginID,
		&job.AccountID, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsForDevice returns the device's enabled backup jobs.
func (db *DB) GetJobsForDevice(ctx context.Context, deviceID string) ([]models.BackupJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM backup_jobs
		WHERE device_id = $1 AND enabled = TRUE
		ORDER BY name
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.BackupJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJobByID returns a job by ID, or (nil, nil) when it does not exist.
func (db *DB) GetJobByID(ctx context.Context, id uuid.UUID) (*models.BackupJob, error) {
	job, err := scanJob(db.Pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM backup_jobs
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Schedule methods

// GetSchedulesForDevice returns enabled schedules for the device's enabled
// jobs.
func (db *DB) GetSchedulesForDevice(ctx context.Context, deviceID string) ([]models.Schedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.id, s.job_id, s.kind, s.cron_expression, s.interval_seconds,
			s.enabled, s.last_run_at, s.next_run_at, s.created_at, s.updated_at
		FROM schedules s
		JOIN backup_jobs j ON j.id = s.job_id
		WHERE j.device_id = $1 AND j.enabled = TRUE AND s.enabled = TRUE
		ORDER BY s.id
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		var s models.Schedule
		err := rows.Scan(
			&s.ID, &s.JobID, &s.Kind, &s.CronExpression, &s.IntervalSeconds,
			&s.Enabled, &s.LastRunAt, &s.NextRunAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateScheduleRunTimes records when a job's schedule last fired and when it
// fires next.
func (db *DB) UpdateScheduleRunTimes(ctx context.Context, jobID uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE schedules
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("update schedule run times: %w", err)
	}
	return nil
}

// Run methods

// CreateRun inserts a new run in the running state and returns its ID.
func (db *DB) CreateRun(ctx context.Context, jobID uuid.UUID, deviceID string, triggeredBy models.TriggerCause) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO runs (job_id, device_id, status, triggered_by)
		VALUES ($1, $2, 'running', $3)
		RETURNING id
	`, jobID, deviceID, triggeredBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// UpdateRun finalizes a run with its terminal status and statistics.
func (db *DB) UpdateRun(ctx context.Context, update models.RunUpdate) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE runs
		SET end_time = $2,
			status = $3,
			exit_code = $4,
			error_message = $5,
			files_new = $6,
			files_changed = $7,
			files_unmodified = $8,
			dirs_new = $9,
			dirs_changed = $10,
			dirs_unmodified = $11,
			data_added_bytes = $12,
			total_files_processed = $13,
			total_bytes_processed = $14,
			duration_seconds = $15,
			snapshot_id = $16,
			engine_output = $17,
			engine_errors = $18
		WHERE id = $1
	`, update.RunID, update.EndTime, update.Status, update.ExitCode,
		update.ErrorMessage, update.FilesNew, update.FilesChanged,
		update.FilesUnmodified, update.DirsNew, update.DirsChanged,
		update.DirsUnmodified, update.DataAddedBytes, update.TotalFilesProcessed,
		update.TotalBytesProcessed, update.DurationSeconds, update.SnapshotID,
		update.EngineOutput, update.EngineErrors)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run: run %d not found", update.RunID)
	}
	return nil
}

// GetRecentRuns returns the device's most recent runs, newest first.
func (db *DB) GetRecentRuns(ctx context.Context, deviceID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, job_id, device_id, start_time, end_time, status, exit_code,
			error_message, files_new, files_changed, files_unmodified,
			dirs_new, dirs_changed, dirs_unmodified, data_added_bytes,
			total_files_processed, total_bytes_processed, duration_seconds,
			snapshot_id, engine_output, engine_errors, triggered_by, created_at
		FROM runs
		WHERE device_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		err := rows.Scan(
			&r.ID, &r.JobID, &r.DeviceID, &r.StartTime, &r.EndTime, &r.Status,
			&r.ExitCode, &r.ErrorMessage, &r.FilesNew, &r.FilesChanged,
			&r.FilesUnmodified, &r.DirsNew, &r.DirsChanged, &r.DirsUnmodified,
			&r.DataAddedBytes, &r.TotalFilesProcessed, &r.TotalBytesProcessed,
			&r.DurationSeconds, &r.SnapshotID, &r.EngineOutput, &r.EngineErrors,
			&r.TriggeredBy, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Settings methods

// GetSettingsForDevice returns the device's settings as a key/value map.
func (db *DB) GetSettingsForDevice(ctx context.Context, deviceID string) (map[string]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT key, value
		FROM settings
		WHERE device_id = $1
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
