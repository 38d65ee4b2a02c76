// Package scheduler decides when backup jobs are due and turns due schedules
// into queued executions.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/voidmesh/backhaul/internal/models"
)

// ErrInvalidCron is returned when a cron expression cannot be parsed or has
// no future occurrence.
var ErrInvalidCron = errors.New("invalid cron expression")

// ErrInvalidInterval is returned when an interval schedule has a missing or
// non-positive period.
var ErrInvalidInterval = errors.New("invalid interval")

// cronParser accepts standard five-field expressions with an explicit seconds
// column prepended by NextRun.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes the next due time for a schedule.
//
// Cron schedules are evaluated with an implicit leading seconds field of zero
// and return the first occurrence strictly after now. Interval schedules are
// anchored to lastRun when present, so cadence is measured from the last
// actual run; with no prior run the first occurrence is one interval from now.
func NextRun(schedule *models.Schedule, lastRun *time.Time, now time.Time) (time.Time, error) {
	switch {
	case schedule.IsCron():
		return nextCronRun(schedule, now)
	case schedule.IsInterval():
		return nextIntervalRun(schedule, lastRun, now)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidCron, schedule.Kind)
	}
}

func nextCronRun(schedule *models.Schedule, now time.Time) (time.Time, error) {
	if schedule.CronExpression == nil {
		return time.Time{}, fmt.Errorf("%w: expression is missing", ErrInvalidCron)
	}

	// The store holds five-field expressions; prepend a zero seconds column.
	spec, err := cronParser.Parse("0 " + *schedule.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	next := spec.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no future occurrence", ErrInvalidCron)
	}

	return next, nil
}

func nextIntervalRun(schedule *models.Schedule, lastRun *time.Time, now time.Time) (time.Time, error) {
	if schedule.IntervalSeconds == nil {
		return time.Time{}, fmt.Errorf("%w: interval seconds is missing", ErrInvalidInterval)
	}

	secs := *schedule.IntervalSeconds
	if secs <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidInterval, secs)
	}

	interval := time.Duration(secs) * time.Second
	if lastRun != nil {
		return lastRun.Add(interval), nil
	}
	return now.Add(interval), nil
}

// IsDue reports whether a schedule should run now. A schedule with no
// next-run time has never been scheduled and is immediately due.
func IsDue(schedule *models.Schedule, now time.Time) bool {
	if schedule.NextRunAt == nil {
		return true
	}
	return !schedule.NextRunAt.After(now)
}
