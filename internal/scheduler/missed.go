package scheduler

import (
	"time"

	"github.com/voidmesh/backhaul/internal/models"
)

// DefaultGracePeriod is how far past its next-run time a schedule may be
// before it counts as missed.
const DefaultGracePeriod = 5 * time.Minute

// IsRunMissed reports whether a schedule's next-run time lies more than
// gracePeriod in the past. A non-positive gracePeriod selects the default.
// Used for observability only; missed runs are never replayed.
func IsRunMissed(schedule *models.Schedule, now time.Time, gracePeriod time.Duration) bool {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	if schedule.NextRunAt == nil {
		return false
	}

	return schedule.NextRunAt.Add(gracePeriod).Before(now)
}

// CountMissedIntervalRuns returns how many occurrences of an interval
// schedule were skipped between the last run and now. Cron schedules and
// schedules without a prior run always count zero. The count feeds a backlog
// warning; it never triggers catch-up executions.
func CountMissedIntervalRuns(schedule *models.Schedule, lastRun *time.Time, now time.Time) int {
	if !schedule.IsInterval() {
		return 0
	}

	if schedule.IntervalSeconds == nil || *schedule.IntervalSeconds <= 0 {
		return 0
	}
	secs := int64(*schedule.IntervalSeconds)

	anchor := lastRun
	if anchor == nil {
		anchor = schedule.LastRunAt
	}
	if anchor == nil {
		return 0
	}

	elapsed := int64(now.Sub(*anchor) / time.Second)
	if elapsed < secs {
		return 0
	}

	missed := int(elapsed/secs) - 1
	if missed < 0 {
		return 0
	}
	return missed
}
