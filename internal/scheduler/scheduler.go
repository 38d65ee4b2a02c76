// Package scheduler decides when backup jobs run and hands them to the
// executor through a bounded queue.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// CheckInterval is how often the scheduler scans its cache for due schedules.
const CheckInterval = 60 * time.Second

// queueCapacity bounds the execution queue. Enqueues block when the executor
// falls this far behind.
const queueCapacity = 100

// JobExecution is one unit of work handed to the executor.
type JobExecution struct {
	JobID       uuid.UUID
	TriggeredBy models.TriggerCause
}

// Store is the database surface the scheduler needs.
type Store interface {
	GetSchedulesForDevice(ctx context.Context, deviceID string) ([]models.Schedule, error)
	UpdateScheduleRunTimes(ctx context.Context, jobID uuid.UUID, lastRun time.Time, nextRun *time.Time) error
}

// QueueObserver receives queue depth updates. Optional.
type QueueObserver interface {
	SetQueueDepth(n int)
}

// Scheduler keeps an in-memory cache of the device's schedules, checks it
// once a minute and enqueues due jobs. The cache is replaced wholesale on
// every reload so a failed reload never leaves it half-updated.
type Scheduler struct {
	store    Store
	deviceID string
	logger   zerolog.Logger
	observer QueueObserver

	mu        sync.Mutex
	schedules map[int]models.Schedule

	queue chan JobExecution
}

// New creates a Scheduler and returns it together with the receive side of
// its execution queue.
func New(store Store, deviceID string, logger zerolog.Logger) (*Scheduler, <-chan JobExecution) {
	queue := make(chan JobExecution, queueCapacity)
	s := &Scheduler{
		store:     store,
		deviceID:  deviceID,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		schedules: make(map[int]models.Schedule),
		queue:     queue,
	}
	return s, queue
}

// SetQueueObserver attaches a queue depth observer.
func (s *Scheduler) SetQueueObserver(o QueueObserver) {
	s.observer = o
}

// Run loads the schedule cache and then checks it every CheckInterval until
// the context is canceled. The initial reload is fatal: an agent that cannot
// compute its schedules should not pretend to be scheduling.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Msg("scheduler started")

	if err := s.Reload(ctx); err != nil {
		return fmt.Errorf("initial schedule load: %w", err)
	}

	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.checkSchedules(ctx)
		}
	}
}

// Reload fetches the device's schedules and replaces the cache. Schedules
// without a next run time get one computed and persisted; a computation
// failure aborts the whole reload before the cache is touched, while a
// persistence failure is only logged since the in-memory copy is what drives
// execution.
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.store.GetSchedulesForDevice(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("fetch schedules: %w", err)
	}

	now := time.Now().UTC()
	fresh := make(map[int]models.Schedule, len(schedules))

	for _, sched := range schedules {
		if sched.NextRunAt == nil {
			next, err := NextRun(&sched, sched.LastRunAt, now)
			if err != nil {
				return fmt.Errorf("compute next run for schedule %d: %w", sched.ID, err)
			}
			sched.NextRunAt = &next

			lastRun := now
			if sched.LastRunAt != nil {
				lastRun = *sched.LastRunAt
			}
			if err := s.store.UpdateScheduleRunTimes(ctx, sched.JobID, lastRun, &next); err != nil {
				s.logger.Warn().Err(err).
					Int("schedule_id", sched.ID).
					Msg("failed to persist computed next run time")
			}
		}

		s.warnIfMissed(&sched, now)
		fresh[sched.ID] = sched
	}

	s.mu.Lock()
	s.schedules = fresh
	s.mu.Unlock()

	s.logger.Info().Int("count", len(fresh)).Msg("schedules reloaded")
	return nil
}

// warnIfMissed logs schedules whose next run slipped past the grace period.
func (s *Scheduler) warnIfMissed(sched *models.Schedule, now time.Time) {
	if !IsRunMissed(sched, now, DefaultGracePeriod) {
		return
	}

	event := s.logger.Warn().
		Int("schedule_id", sched.ID).
		Str("job_id", sched.JobID.String()).
		Time("next_run_at", *sched.NextRunAt)
	if missed := CountMissedIntervalRuns(sched, sched.LastRunAt, now); missed > 0 {
		event = event.Int("missed_runs", missed)
	}
	event.Msg("schedule missed its run window")
}

// checkSchedules enqueues every enabled due schedule. Failures are per
// schedule: one broken schedule never stops the others from running.
func (s *Scheduler) checkSchedules(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]models.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		snapshot = append(snapshot, sched)
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	for i := range snapshot {
		sched := snapshot[i]
		if !sched.Enabled || !IsDue(&sched, now) {
			continue
		}
		if err := s.queueJob(ctx, sched); err != nil {
			s.logger.Error().Err(err).
				Int("schedule_id", sched.ID).
				Str("job_id", sched.JobID.String()).
				Msg("failed to queue job")
		}
	}

	if s.observer != nil {
		s.observer.SetQueueDepth(len(s.queue))
	}
}

// queueJob enqueues the schedule's job and advances its run times, anchoring
// the next occurrence to the trigger instant rather than the execution's
// completion.
func (s *Scheduler) queueJob(ctx context.Context, sched models.Schedule) error {
	select {
	case s.queue <- JobExecution{JobID: sched.JobID, TriggeredBy: models.TriggerSchedule}:
	case <-ctx.Done():
		return ctx.Err()
	}

	now := time.Now().UTC()
	next, err := NextRun(&sched, &now, now)
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}

	if err := s.store.UpdateScheduleRunTimes(ctx, sched.JobID, now, &next); err != nil {
		return fmt.Errorf("persist run times: %w", err)
	}

	// Only advance the run times of an entry that is still cached. A reload
	// may have replaced or removed the schedule since the tick's snapshot,
	// and writing the stale copy back would resurrect it.
	s.mu.Lock()
	if cached, ok := s.schedules[sched.ID]; ok {
		cached.LastRunAt = &now
		cached.NextRunAt = &next
		s.schedules[sched.ID] = cached
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", sched.JobID.String()).
		Time("next_run_at", next).
		Msg("job queued")
	return nil
}

// TriggerManual enqueues a job immediately, bypassing the due check. Manual
// runs do not advance schedule bookkeeping, so the next scheduled occurrence
// is unaffected.
func (s *Scheduler) TriggerManual(ctx context.Context, jobID uuid.UUID) error {
	select {
	case s.queue <- JobExecution{JobID: jobID, TriggeredBy: models.TriggerManual}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().Str("job_id", jobID.String()).Msg("manual run queued")
	return nil
}
