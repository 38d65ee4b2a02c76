package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// ExecutorStore looks up jobs at execution time. GetJobByID returns
// (nil, nil) when the job no longer exists.
type ExecutorStore interface {
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.BackupJob, error)
}

// BackupRunner runs one backup attempt for a job.
type BackupRunner interface {
	Execute(ctx context.Context, job *models.BackupJob, cause models.TriggerCause, traceID string) (int, error)
}

// ExecutorObserver receives executor state changes. Optional.
type ExecutorObserver interface {
	IncRunning()
	DecRunning()
	IncDropped()
}

// JobExecutor consumes the scheduler's queue and runs each job in its own
// goroutine, holding the per-device concurrency ceiling. Executions that
// would exceed the ceiling are dropped, not retried: the next schedule tick
// will queue the job again.
type JobExecutor struct {
	store        ExecutorStore
	runner       BackupRunner
	maxPerDevice int
	logger       zerolog.Logger
	observer     ExecutorObserver

	mu      sync.Mutex
	running map[string]int

	wg sync.WaitGroup
}

// NewJobExecutor creates a JobExecutor. A non-positive maxPerDevice falls
// back to one backup at a time.
func NewJobExecutor(store ExecutorStore, runner BackupRunner, maxPerDevice int, logger zerolog.Logger) *JobExecutor {
	if maxPerDevice <= 0 {
		maxPerDevice = 1
	}
	return &JobExecutor{
		store:        store,
		runner:       runner,
		maxPerDevice: maxPerDevice,
		logger:       logger.With().Str("component", "executor").Logger(),
		running:      make(map[string]int),
	}
}

// SetObserver attaches an executor state observer.
func (e *JobExecutor) SetObserver(o ExecutorObserver) {
	e.observer = o
}

// Run consumes the queue until the context is canceled or the queue is
// closed. Each execution runs in its own goroutine so a long backup never
// blocks the queue.
func (e *JobExecutor) Run(ctx context.Context, queue <-chan JobExecution) error {
	e.logger.Info().Int("max_per_device", e.maxPerDevice).Msg("job executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("job executor stopped")
			return ctx.Err()
		case exec, ok := <-queue:
			if !ok {
				return nil
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				if err := e.executeJob(ctx, exec); err != nil {
					e.logger.Error().Err(err).
						Str("job_id", exec.JobID.String()).
						Msg("job execution failed")
				}
			}()
		}
	}
}

// Wait blocks until all in-flight executions finish.
func (e *JobExecutor) Wait() {
	e.wg.Wait()
}

func (e *JobExecutor) executeJob(ctx context.Context, exec JobExecution) error {
	traceID := uuid.New().String()
	logger := e.logger.With().
		Str("trace_id", traceID).
		Str("job_id", exec.JobID.String()).
		Logger()

	// The job is looked up fresh so executions always see current paths,
	// excludes and tags, not the ones from enqueue time.
	job, err := e.store.GetJobByID(ctx, exec.JobID)
	if err != nil {
		return fmt.Errorf("look up job: %w", err)
	}
	if job == nil {
		logger.Warn().Msg("job no longer exists, skipping execution")
		return nil
	}

	if !e.tryAcquire(job.DeviceID) {
		logger.Warn().
			Str("device_id", job.DeviceID).
			Int("max_per_device", e.maxPerDevice).
			Msg("device at concurrency limit, dropping execution")
		if e.observer != nil {
			e.observer.IncDropped()
		}
		return nil
	}
	defer e.release(job.DeviceID)

	if e.observer != nil {
		e.observer.IncRunning()
		defer e.observer.DecRunning()
	}

	runID, err := e.runner.Execute(ctx, job, exec.TriggeredBy, traceID)
	if err != nil {
		return fmt.Errorf("run %d: %w", runID, err)
	}

	logger.Info().Int("run_id", runID).Msg("job execution completed")
	return nil
}

// tryAcquire admits an execution for the device if it is below the ceiling.
func (e *JobExecutor) tryAcquire(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[deviceID] >= e.maxPerDevice {
		return false
	}
	e.running[deviceID]++
	return true
}

func (e *JobExecutor) release(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[deviceID] > 0 {
		e.running[deviceID]--
	}
	if e.running[deviceID] == 0 {
		delete(e.running, deviceID)
	}
}
