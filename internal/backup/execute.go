package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// ErrConfiguration is returned when the repository settings needed to run the
// engine are incomplete.
var ErrConfiguration = errors.New("incomplete repository configuration")

// fallbackErrorMessage is stored when the engine fails without writing
// anything to stderr.
const fallbackErrorMessage = "Backup failed with no error message"

// RunStore persists run records.
type RunStore interface {
	CreateRun(ctx context.Context, jobID uuid.UUID, deviceID string, triggeredBy models.TriggerCause) (int, error)
	UpdateRun(ctx context.Context, update models.RunUpdate) error
}

// ConfigProvider yields the current engine configuration snapshot.
type ConfigProvider interface {
	EngineConfig() (EngineConfig, error)
}

// Journal persists finalized runs locally for offline diagnostics. Journal
// failures never affect the run outcome.
type Journal interface {
	RecordRun(ctx context.Context, job *models.BackupJob, update models.RunUpdate) error
}

// MetricsSink observes finalized run outcomes.
type MetricsSink interface {
	ObserveRun(status models.RunStatus, duration time.Duration, dataAdded int64)
}

// Runner executes backup jobs end to end: it creates the run record, invokes
// the engine, parses its output and finalizes the run exactly once.
type Runner struct {
	store   RunStore
	restic  *Restic
	config  ConfigProvider
	journal Journal
	metrics MetricsSink
	logger  zerolog.Logger
}

// NewRunner creates a Runner. Journal and metrics are optional and attached
// with the setters below.
func NewRunner(store RunStore, restic *Restic, config ConfigProvider, logger zerolog.Logger) *Runner {
	return &Runner{
		store:  store,
		restic: restic,
		config: config,
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// SetJournal attaches a local run journal.
func (r *Runner) SetJournal(j Journal) {
	r.journal = j
}

// SetMetrics attaches a metrics sink.
func (r *Runner) SetMetrics(m MetricsSink) {
	r.metrics = m
}

// Execute runs one backup attempt for the job and returns the run ID. Once
// the run record exists every failure path finalizes it as failed, so a
// non-nil error alongside a non-zero run ID means the outcome was recorded.
func (r *Runner) Execute(ctx context.Context, job *models.BackupJob, cause models.TriggerCause, traceID string) (int, error) {
	logger := r.logger.With().
		Str("trace_id", traceID).
		Str("job_id", job.ID.String()).
		Str("job_name", job.Name).
		Logger()

	logger.Info().Strs("source_paths", job.SourcePaths).Msg("starting backup")
	start := time.Now().UTC()

	runID, err := r.store.CreateRun(ctx, job.ID, job.DeviceID, cause)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	cfg, err := r.config.EngineConfig()
	if err != nil {
		r.finalize(ctx, job, failedUpdate(runID, start, err.Error(), nil, nil, nil), logger)
		return runID, err
	}

	result, err := r.restic.Backup(ctx, cfg, job)
	if err != nil {
		// The engine never started, so there is no exit code or output.
		logger.Error().Err(err).Msg("failed to launch restic")
		r.finalize(ctx, job, failedUpdate(runID, start, err.Error(), nil, nil, nil), logger)
		return runID, err
	}

	stdout := string(result.Stdout)
	stderr := string(result.Stderr)

	if result.ExitCode != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fallbackErrorMessage
		}
		logger.Error().Int("exit_code", result.ExitCode).Str("stderr", msg).Msg("backup failed")
		r.finalize(ctx, job, failedUpdate(runID, start, msg, &result.ExitCode, &stdout, &stderr), logger)
		return runID, fmt.Errorf("restic exited with code %d: %s", result.ExitCode, msg)
	}

	stats, err := ParseSummary(result.Stdout, logger)
	if err != nil {
		// Exit zero with unusable output still fails the run. The exit code
		// and raw output are preserved for diagnosis.
		msg := fmt.Sprintf("failed to parse backup output: %v", err)
		logger.Error().Err(err).Msg("failed to parse backup output")
		r.finalize(ctx, job, failedUpdate(runID, start, msg, &result.ExitCode, &stdout, &stderr), logger)
		return runID, fmt.Errorf("parse backup output: %w", err)
	}

	end := time.Now().UTC()
	duration := int(end.Sub(start).Seconds())
	update := models.RunUpdate{
		RunID:               runID,
		EndTime:             end,
		Status:              models.RunStatusSuccess,
		ExitCode:            &result.ExitCode,
		FilesNew:            &stats.FilesNew,
		FilesChanged:        &stats.FilesChanged,
		FilesUnmodified:     &stats.FilesUnmodified,
		DirsNew:             &stats.DirsNew,
		DirsChanged:         &stats.DirsChanged,
		DirsUnmodified:      &stats.DirsUnmodified,
		DataAddedBytes:      &stats.DataAddedBytes,
		TotalFilesProcessed: &stats.TotalFilesProcessed,
		TotalBytesProcessed: &stats.TotalBytesProcessed,
		DurationSeconds:     &duration,
		SnapshotID:          &stats.SnapshotID,
		EngineOutput:        &stdout,
	}
	if stderr != "" {
		// restic writes warnings to stderr even on success; keep them.
		update.EngineErrors = &stderr
	}

	r.finalize(ctx, job, update, logger)

	logger.Info().
		Str("snapshot_id", stats.SnapshotID).
		Int("files_new", stats.FilesNew).
		Int("files_changed", stats.FilesChanged).
		Int64("data_added_bytes", stats.DataAddedBytes).
		Int("duration_seconds", duration).
		Msg("backup completed")

	return runID, nil
}

// finalize writes the terminal run state and fans it out to the journal and
// metrics. Persistence failures are logged, not propagated: the backup itself
// already ran.
func (r *Runner) finalize(ctx context.Context, job *models.BackupJob, update models.RunUpdate, logger zerolog.Logger) {
	if err := r.store.UpdateRun(ctx, update); err != nil {
		logger.Error().Err(err).Int("run_id", update.RunID).Msg("failed to finalize run record")
	}
	if r.journal != nil {
		if err := r.journal.RecordRun(ctx, job, update); err != nil {
			logger.Warn().Err(err).Int("run_id", update.RunID).Msg("failed to journal run")
		}
	}
	if r.metrics != nil {
		var dataAdded int64
		if update.DataAddedBytes != nil {
			dataAdded = *update.DataAddedBytes
		}
		var duration time.Duration
		if update.DurationSeconds != nil {
			duration = time.Duration(*update.DurationSeconds) * time.Second
		}
		r.metrics.ObserveRun(update.Status, duration, dataAdded)
	}
}

func failedUpdate(runID int, start time.Time, message string, exitCode *int, stdout, stderr *string) models.RunUpdate {
	end := time.Now().UTC()
	duration := int(end.Sub(start).Seconds())
	return models.RunUpdate{
		RunID:           runID,
		EndTime:         end,
		Status:          models.RunStatusFailed,
		ExitCode:        exitCode,
		ErrorMessage:    &message,
		DurationSeconds: &duration,
		EngineOutput:    stdout,
		EngineErrors:    stderr,
	}
}
