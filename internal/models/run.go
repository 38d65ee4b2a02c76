package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a Run. A run is created running and
// transitions to exactly one terminal state.
type RunStatus string

const (
	// RunStatusRunning means the execution is in flight.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess means the engine exited zero and produced a summary.
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed means the execution failed at any stage.
	RunStatusFailed RunStatus = "failed"
)

// TriggerCause records what caused a job execution.
type TriggerCause string

const (
	// TriggerSchedule means a due schedule enqueued the execution.
	TriggerSchedule TriggerCause = "schedule"
	// TriggerManual means an operator requested the execution directly.
	TriggerManual TriggerCause = "manual"
)

// Run is one concrete execution attempt of a job. ExitCode is absent when the
// engine could not even be launched; file and byte statistics and SnapshotID
// are present only on success.
type Run struct {
	ID                  int          `json:"id"`
	JobID               uuid.UUID    `json:"job_id"`
	DeviceID            string       `json:"device_id"`
	StartTime           time.Time    `json:"start_time"`
	EndTime             *time.Time   `json:"end_time,omitempty"`
	Status              RunStatus    `json:"status"`
	ExitCode            *int         `json:"exit_code,omitempty"`
	ErrorMessage        *string      `json:"error_message,omitempty"`
	FilesNew            *int         `json:"files_new,omitempty"`
	FilesChanged        *int         `json:"files_changed,omitempty"`
	FilesUnmodified     *int         `json:"files_unmodified,omitempty"`
	DirsNew             *int         `json:"dirs_new,omitempty"`
	DirsChanged         *int         `json:"dirs_changed,omitempty"`
	DirsUnmodified      *int         `json:"dirs_unmodified,omitempty"`
	DataAddedBytes      *int64       `json:"data_added_bytes,omitempty"`
	TotalFilesProcessed *int         `json:"total_files_processed,omitempty"`
	TotalBytesProcessed *int64       `json:"total_bytes_processed,omitempty"`
	DurationSeconds     *int         `json:"duration_seconds,omitempty"`
	SnapshotID          *string      `json:"snapshot_id,omitempty"`
	EngineOutput        *string      `json:"engine_output,omitempty"`
	EngineErrors        *string      `json:"engine_errors,omitempty"`
	TriggeredBy         TriggerCause `json:"triggered_by"`
	CreatedAt           time.Time    `json:"created_at"`
}

// RunUpdate carries the fields written when a run is finalized. Nil pointers
// leave the corresponding column untouched.
type RunUpdate struct {
	RunID               int
	EndTime             time.Time
	Status              RunStatus
	ExitCode            *int
	ErrorMessage        *string
	FilesNew            *int
	FilesChanged        *int
	FilesUnmodified     *int
	DirsNew             *int
	DirsChanged         *int
	DirsUnmodified      *int
	DataAddedBytes      *int64
	TotalFilesProcessed *int
	TotalBytesProcessed *int64
	DurationSeconds     *int
	SnapshotID          *string
	EngineOutput        *string
	EngineErrors        *string
}

// IsRunning reports whether the run has not yet reached a terminal state.
func (r *Run) IsRunning() bool {
	return r.Status == RunStatusRunning
}

// IsSuccess reports whether the run finished successfully.
func (r *Run) IsSuccess() bool {
	return r.Status == RunStatusSuccess
}

// IsFailed reports whether the run finished with a failure.
func (r *Run) IsFailed() bool {
	return r.Status == RunStatusFailed
}
