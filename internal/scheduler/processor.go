package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/processor"
)

// FireProcessor handles schedule_fire jobs from the delayed queue. The
// job is only a wake-up call; all firing semantics, including the
// double-fire guard, live in the scheduler.
type FireProcessor struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewFireProcessor creates the processor for schedule_fire jobs.
func NewFireProcessor(scheduler *Scheduler, logger *slog.Logger) *FireProcessor {
	return &FireProcessor{
		scheduler: scheduler,
		logger:    logger.With("processor", "schedule_fire"),
	}
}

// Validate checks the payload names a trigger.
func (p *FireProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload firePayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed fire payload: %v", domain.ErrValidation, err)
	}
	if payload.TriggerID == uuid.Nil {
		return fmt.Errorf("%w: missing trigger id", domain.ErrValidation)
	}
	return nil
}

// Execute fires the trigger. Inactive and already-fired triggers are
// no-ops, so a stale fire job after unscheduling is harmless.
func (p *FireProcessor) Execute(ctx context.Context, job *domain.Job, progress processor.ProgressFunc) (processor.Result, error) {
	var payload firePayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return processor.Result{}, fmt.Errorf("%w: malformed fire payload: %v", domain.ErrValidation, err)
	}
	progress(10)

	if err := p.scheduler.FireTrigger(ctx, payload.TriggerID); err != nil {
		return processor.Result{}, err
	}
	progress(100)

	return processor.Result{
		Message: "trigger fired",
		Output:  map[string]interface{}{"trigger_id": payload.TriggerID.String()},
	}, nil
}

// OnSuccess logs the fire.
func (p *FireProcessor) OnSuccess(ctx context.Context, job *domain.Job, result processor.Result) {
	p.logger.Info("schedule fire handled", "job_id", job.ID, "trigger_id", result.Output["trigger_id"])
}

// OnFailure logs the failure; the missed sweep retries the occurrence.
func (p *FireProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("schedule fire failed", "job_id", job.ID, "error", jobErr)
}
