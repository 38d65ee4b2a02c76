// Package journal keeps a local SQLite record of finalized backup runs so
// run history stays inspectable when the shared database is unreachable.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/voidmesh/backhaul/internal/models"
)

// Entry is one journaled run.
type Entry struct {
	RunID        int
	JobID        uuid.UUID
	JobName      string
	Status       models.RunStatus
	EndTime      time.Time
	ExitCode     *int
	SnapshotID   *string
	ErrorMessage *string
	DataAdded    *int64
}

// Journal is a local append-mostly run log backed by SQLite.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the journal database under the config directory.
func Open(configDir string, logger zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	dbPath := filepath.Join(configDir, "journal.db")

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal database: %w", err)
	}

	j.logger.Info().Str("path", dbPath).Msg("run journal initialized")
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			end_time TEXT NOT NULL,
			exit_code INTEGER,
			snapshot_id TEXT,
			error_message TEXT,
			data_added_bytes INTEGER,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_run_journal_end_time ON run_journal(end_time);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordRun implements the runner's journal hook.
func (j *Journal) RecordRun(ctx context.Context, job *models.BackupJob, update models.RunUpdate) error {
	entry := Entry{
		RunID:        update.RunID,
		JobID:        job.ID,
		JobName:      job.Name,
		Status:       update.Status,
		EndTime:      update.EndTime,
		ExitCode:     update.ExitCode,
		SnapshotID:   update.SnapshotID,
		ErrorMessage: update.ErrorMessage,
		DataAdded:    update.DataAddedBytes,
	}
	return j.Append(ctx, entry)
}

// Append writes one entry to the journal.
func (j *Journal) Append(ctx context.Context, entry Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO run_journal (run_id, job_id, job_name, status, end_time,
			exit_code, snapshot_id, error_message, data_added_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RunID,
		entry.JobID.String(),
		entry.JobName,
		string(entry.Status),
		entry.EndTime.UTC().Format(time.RFC3339),
		entry.ExitCode,
		entry.SnapshotID,
		entry.ErrorMessage,
		entry.DataAdded,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, job_id, job_name, status, end_time,
			exit_code, snapshot_id, error_message, data_added_bytes
		FROM run_journal
		ORDER BY end_time DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var jobID, endTime, status string
		err := rows.Scan(&entry.RunID, &jobID, &entry.JobName, &status, &endTime,
			&entry.ExitCode, &entry.SnapshotID, &entry.ErrorMessage, &entry.DataAdded)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}

		entry.Status = models.RunStatus(status)
		if entry.JobID, err = uuid.Parse(jobID); err != nil {
			return nil, fmt.Errorf("parse journal job ID: %w", err)
		}
		if entry.EndTime, err = time.Parse(time.RFC3339, endTime); err != nil {
			return nil, fmt.Errorf("parse journal end time: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
