// Package scheduler owns schedule triggers: time-based rules that
// enqueue workflow executions without an external caller. Firing rides
// the delayed queue as schedule_fire jobs; a periodic sweep catches
// triggers whose fire job was lost or delayed past the grace period.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
)

// sweepBatch bounds how many missed triggers one sweep pass fires.
const sweepBatch = 50

// JobQueue is the slice of the job queue set the scheduler uses: firing
// a trigger enqueues a workflow execution, and scheduling the next fire
// enqueues a delayed schedule_fire job.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload, opts queue.EnqueueOptions) (*domain.Job, error)
	EnqueueWorkflowExecution(ctx context.Context, workflowID uuid.UUID, triggerData map[string]interface{}, opts queue.EnqueueOptions) (uuid.UUID, error)
}

// Scheduler manages schedule triggers and their firing.
type Scheduler struct {
	triggers store.TriggerStore
	jobs     JobQueue
	cfg      config.SchedulerConfig
	logger   *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// New creates the scheduler.
func New(triggers store.TriggerStore, jobs JobQueue, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		triggers: triggers,
		jobs:     jobs,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
	}
}

// Schedule activates a new trigger for the workflow. The schedule is
// validated up front: an unparsable cron expression or a one-shot time
// in the past fails with domain.ErrInvalidSchedule and nothing is
// persisted.
func (s *Scheduler) Schedule(ctx context.Context, workflowID uuid.UUID, scheduleType domain.ScheduleType, cfg domain.ScheduleConfig) (*domain.ScheduleTrigger, error) {
	now := s.now().UTC()
	next, err := nextRun(scheduleType, cfg, now, false)
	if err != nil {
		return nil, err
	}

	trigger := &domain.ScheduleTrigger{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Type:       scheduleType,
		Config:     cfg,
		NextRunAt:  next,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.triggers.SaveTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to save trigger: %w", err)
	}

	if err := s.enqueueFire(ctx, trigger.ID, next); err != nil {
		// The sweep will pick the trigger up at its due time.
		s.logger.Warn("failed to enqueue fire job, sweep will cover",
			"trigger_id", trigger.ID, "error", err)
	}

	s.logger.Info("trigger scheduled",
		"trigger_id", trigger.ID,
		"workflow_id", workflowID,
		"type", scheduleType,
		"next_run_at", next)
	return trigger, nil
}

// Unschedule deactivates a trigger. Deactivated triggers keep their
// history and can be inspected, but never fire again; a pending fire
// job for the trigger becomes a no-op.
func (s *Scheduler) Unschedule(ctx context.Context, triggerID uuid.UUID) error {
	if err := s.triggers.DeactivateTrigger(ctx, triggerID); err != nil {
		return err
	}
	s.logger.Info("trigger unscheduled", "trigger_id", triggerID)
	return nil
}

// FireTrigger fires one due trigger: it enqueues the workflow
// execution, advances the next run time, and for recurring triggers
// schedules the next fire job. The advance is a conditional update on
// the previous next run time, so concurrent firers (the fire job and
// the missed sweep) cannot double-fire.
func (s *Scheduler) FireTrigger(ctx context.Context, triggerID uuid.UUID) error {
	trigger, err := s.triggers.GetTrigger(ctx, triggerID)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			s.logger.Warn("fire for unknown trigger", "trigger_id", triggerID)
			return nil
		}
		return err
	}
	if !trigger.Active {
		s.logger.Debug("fire for inactive trigger skipped", "trigger_id", triggerID)
		return nil
	}

	now := s.now().UTC()
	if trigger.NextRunAt.After(now) {
		// Fired early; the real fire job is still pending.
		s.logger.Debug("fire before due time skipped",
			"trigger_id", triggerID, "next_run_at", trigger.NextRunAt)
		return nil
	}

	// The next occurrence is computed from the later of the wall clock
	// and the stored next run time, so it is strictly increasing even
	// when firing lags the schedule.
	base := now
	if trigger.NextRunAt.After(base) {
		base = trigger.NextRunAt
	}
	var next time.Time
	if trigger.Recurring() {
		next, err = nextRun(trigger.Type, trigger.Config, base, true)
		if err != nil {
			if incErr := s.triggers.IncrementTriggerError(ctx, triggerID); incErr != nil {
				s.logger.Error("failed to record trigger error", "trigger_id", triggerID, "error", incErr)
			}
			return fmt.Errorf("failed to compute next run: %w", err)
		}
	}

	fired, err := s.triggers.MarkFired(ctx, triggerID, now, trigger.NextRunAt, next)
	if err != nil {
		return fmt.Errorf("failed to mark trigger fired: %w", err)
	}
	if !fired {
		// Another firer won the conditional update.
		s.logger.Debug("trigger already fired by concurrent firer", "trigger_id", triggerID)
		return nil
	}

	executionID, err := s.jobs.EnqueueWorkflowExecution(ctx, trigger.WorkflowID, map[string]interface{}{
		"trigger_id":    triggerID.String(),
		"trigger_type":  string(trigger.Type),
		"scheduled_for": trigger.NextRunAt.Format(time.RFC3339),
	}, queue.EnqueueOptions{})
	if err != nil {
		if incErr := s.triggers.IncrementTriggerError(ctx, triggerID); incErr != nil {
			s.logger.Error("failed to record trigger error", "trigger_id", triggerID, "error", incErr)
		}
		// A workflow gone missing or inactive retires the trigger.
		if errors.Is(err, store.ErrWorkflowNotFound) || errors.Is(err, domain.ErrWorkflowNotActive) {
			s.logger.Warn("deactivating trigger for unrunnable workflow",
				"trigger_id", triggerID, "workflow_id", trigger.WorkflowID, "error", err)
			if deErr := s.triggers.DeactivateTrigger(ctx, triggerID); deErr != nil {
				s.logger.Error("failed to deactivate trigger", "trigger_id", triggerID, "error", deErr)
			}
			return nil
		}
		return fmt.Errorf("failed to enqueue scheduled execution: %w", err)
	}

	if trigger.Recurring() {
		if err := s.enqueueFire(ctx, triggerID, next); err != nil {
			s.logger.Warn("failed to enqueue next fire job, sweep will cover",
				"trigger_id", triggerID, "error", err)
		}
	} else {
		if err := s.triggers.DeactivateTrigger(ctx, triggerID); err != nil {
			s.logger.Error("failed to deactivate one-shot trigger",
				"trigger_id", triggerID, "error", err)
		}
	}

	s.logger.Info("trigger fired",
		"trigger_id", triggerID,
		"workflow_id", trigger.WorkflowID,
		"execution_id", executionID,
		"next_run_at", next)
	return nil
}

// Run drives the missed-schedule sweep until ctx is cancelled. The
// sweep only fires triggers overdue past the grace period; on-time
// fires belong to the delayed schedule_fire jobs.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler sweep started", "interval", interval, "grace", s.cfg.MissedGrace)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler sweep stopped")
			return
		case <-ticker.C:
			s.sweepMissed(ctx)
		}
	}
}

func (s *Scheduler) sweepMissed(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.MissedGrace)
	due, err := s.triggers.ListDueTriggers(ctx, cutoff, sweepBatch)
	if err != nil {
		s.logger.Error("missed-schedule sweep failed", "error", err)
		return
	}
	for _, trigger := range due {
		if err := s.FireTrigger(ctx, trigger.ID); err != nil {
			s.logger.Error("missed trigger fire failed",
				"trigger_id", trigger.ID, "error", err)
		} else {
			s.logger.Warn("missed trigger fired by sweep",
				"trigger_id", trigger.ID, "was_due", trigger.NextRunAt)
		}
	}
}

// firePayload is the schedule_fire job's type-specific data.
type firePayload struct {
	TriggerID uuid.UUID `json:"trigger_id"`
}

// enqueueFire queues a delayed schedule_fire job due at the trigger's
// next run time. The job key dedupes concurrent scheduling of the same
// occurrence.
func (s *Scheduler) enqueueFire(ctx context.Context, triggerID uuid.UUID, at time.Time) error {
	data, err := json.Marshal(firePayload{TriggerID: triggerID})
	if err != nil {
		return fmt.Errorf("failed to marshal fire payload: %w", err)
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	_, err = s.jobs.Enqueue(ctx, domain.JobTypeScheduleFire, domain.JobPayload{Data: data}, queue.EnqueueOptions{
		Delay:  delay,
		JobKey: fmt.Sprintf("fire:%s:%d", triggerID, at.Unix()),
	})
	if errors.Is(err, domain.ErrDuplicateJob) {
		return nil
	}
	return err
}
