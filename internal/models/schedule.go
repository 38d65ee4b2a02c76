package models

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleKind selects how a schedule's next run time is computed.
type ScheduleKind string

const (
	// ScheduleKindCron evaluates a cron expression.
	ScheduleKindCron ScheduleKind = "cron"
	// ScheduleKindInterval runs at a fixed period anchored to the last run.
	ScheduleKindInterval ScheduleKind = "interval"
)

// Schedule is a rule determining when a job should next run. Exactly one of
// CronExpression / IntervalSeconds is meaningful, selected by Kind. The store
// is the source of truth; the scheduler caches a snapshot and is the only
// writer of LastRunAt/NextRunAt.
type Schedule struct {
	ID              int          `json:"id"`
	JobID           uuid.UUID    `json:"job_id"`
	Kind            ScheduleKind `json:"kind"`
	CronExpression  *string      `json:"cron_expression,omitempty"`
	IntervalSeconds *int         `json:"interval_seconds,omitempty"`
	Enabled         bool         `json:"enabled"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsCron reports whether the schedule is cron-based.
func (s *Schedule) IsCron() bool {
	return s.Kind == ScheduleKindCron
}

// IsInterval reports whether the schedule is interval-based.
func (s *Schedule) IsInterval() bool {
	return s.Kind == ScheduleKindInterval
}
