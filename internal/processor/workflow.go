package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
)

// WorkflowExecutionProcessor drives one workflow run through the
// external graph interpreter and keeps the execution record's status
// transitions in step with it.
type WorkflowExecutionProcessor struct {
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	executor   Executor
	enqueuer   Enqueuer
	logger     *slog.Logger
}

// NewWorkflowExecutionProcessor creates the processor for
// workflow_execution jobs.
func NewWorkflowExecutionProcessor(workflows store.WorkflowStore, executions store.ExecutionStore, executor Executor, enqueuer Enqueuer, logger *slog.Logger) *WorkflowExecutionProcessor {
	return &WorkflowExecutionProcessor{
		workflows:  workflows,
		executions: executions,
		executor:   executor,
		enqueuer:   enqueuer,
		logger:     logger.With("processor", "workflow_execution"),
	}
}

// Validate checks that the referenced workflow still exists and is
// executable and that the execution record has not reached a terminal
// state (a cancelled run must not start executing).
func (p *WorkflowExecutionProcessor) Validate(ctx context.Context, job *domain.Job) error {
	workflow, err := p.workflows.GetWorkflow(ctx, job.Payload.WorkflowID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !workflow.Executable() {
		return fmt.Errorf("%w: workflow %s has status %q", domain.ErrValidation, workflow.ID, workflow.Status)
	}

	record, err := p.executions.GetExecution(ctx, job.Payload.ExecutionID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: execution %s already %s", domain.ErrValidation, record.ID, record.Status)
	}
	return nil
}

// Execute marks the run as running, walks the graph, and either
// finishes or parks the run on a wait step by enqueuing a delayed
// resumption.
func (p *WorkflowExecutionProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	executionID := job.Payload.ExecutionID

	if err := p.executions.UpdateExecutionStatus(ctx, executionID, domain.ExecutionStatusRunning, ""); err != nil {
		return Result{}, fmt.Errorf("failed to mark execution running: %w", err)
	}
	progress(10)

	workflow, err := p.workflows.GetWorkflow(ctx, job.Payload.WorkflowID)
	if err != nil {
		return Result{}, err
	}

	outcome, err := p.executor.Execute(ctx, workflow, executionID, job.Payload.TriggerData)
	if err != nil {
		return Result{}, err
	}
	progress(80)

	if err := p.executions.UpdateExecutionContext(ctx, executionID, outcome.Context); err != nil {
		return Result{}, fmt.Errorf("failed to persist execution context: %w", err)
	}

	if !outcome.Completed {
		if err := p.scheduleResume(ctx, job, outcome); err != nil {
			return Result{}, err
		}
		progress(100)
		return Result{
			Message: "execution parked on wait step",
			Output:  map[string]interface{}{"wait_node_id": outcome.WaitNodeID, "resume_at": outcome.ResumeAt},
		}, nil
	}

	progress(100)
	return Result{Message: "execution completed"}, nil
}

// resumePayload is the delayed_resume job's type-specific data.
type resumePayload struct {
	NodeID     string                 `json:"node_id"`
	ResumeData map[string]interface{} `json:"resume_data,omitempty"`
}

func (p *WorkflowExecutionProcessor) scheduleResume(ctx context.Context, job *domain.Job, outcome ExecutionOutcome) error {
	data, err := json.Marshal(resumePayload{NodeID: outcome.WaitNodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal resume payload: %w", err)
	}

	delay := time.Until(outcome.ResumeAt)
	if delay < 0 {
		delay = 0
	}
	_, err = p.enqueuer.Enqueue(ctx, domain.JobTypeDelayedResume, domain.JobPayload{
		WorkflowID:     job.Payload.WorkflowID,
		OrganizationID: job.Payload.OrganizationID,
		ExecutionID:    job.Payload.ExecutionID,
		Data:           data,
	}, queue.EnqueueOptions{Delay: delay})
	if err != nil {
		return fmt.Errorf("failed to enqueue delayed resume: %w", err)
	}

	p.logger.Info("wait step scheduled",
		"execution_id", job.Payload.ExecutionID,
		"node_id", outcome.WaitNodeID,
		"resume_at", outcome.ResumeAt)
	return nil
}

// OnSuccess finalizes the execution record unless the run parked on a
// wait step, in which case it stays running until the resumption fires.
func (p *WorkflowExecutionProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	if _, parked := result.Output["wait_node_id"]; parked {
		return
	}
	if err := p.executions.UpdateExecutionStatus(ctx, job.Payload.ExecutionID, domain.ExecutionStatusCompleted, ""); err != nil {
		p.logger.Error("failed to mark execution completed",
			"execution_id", job.Payload.ExecutionID, "error", err)
	}
}

// OnFailure records the human-readable error on the execution record.
func (p *WorkflowExecutionProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	if err := p.executions.UpdateExecutionStatus(ctx, job.Payload.ExecutionID, domain.ExecutionStatusFailed, jobErr.Error()); err != nil {
		p.logger.Error("failed to mark execution failed",
			"execution_id", job.Payload.ExecutionID, "error", err)
	}
}

// DelayedResumeProcessor continues a workflow run that parked on a wait
// step. It rides the delayed queue, where resumption failures are
// workflow failures rather than queue failures.
type DelayedResumeProcessor struct {
	executions store.ExecutionStore
	executor   Executor
	enqueuer   Enqueuer
	logger     *slog.Logger
}

// NewDelayedResumeProcessor creates the processor for delayed_resume jobs.
func NewDelayedResumeProcessor(executions store.ExecutionStore, executor Executor, enqueuer Enqueuer, logger *slog.Logger) *DelayedResumeProcessor {
	return &DelayedResumeProcessor{
		executions: executions,
		executor:   executor,
		enqueuer:   enqueuer,
		logger:     logger.With("processor", "delayed_resume"),
	}
}

// Validate checks the run is still resumable: it must exist and must
// not have been cancelled or finished while waiting.
func (p *DelayedResumeProcessor) Validate(ctx context.Context, job *domain.Job) error {
	record, err := p.executions.GetExecution(ctx, job.Payload.ExecutionID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: execution %s already %s", domain.ErrValidation, record.ID, record.Status)
	}
	return nil
}

// Execute resumes the interpreter at the parked node. A run may park
// again on a later wait step.
func (p *DelayedResumeProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload resumePayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed resume payload: %v", domain.ErrValidation, err)
	}
	progress(10)

	outcome, err := p.executor.Resume(ctx, job.Payload.ExecutionID, payload.NodeID, payload.ResumeData)
	if err != nil {
		return Result{}, err
	}
	progress(80)

	if err := p.executions.UpdateExecutionContext(ctx, job.Payload.ExecutionID, outcome.Context); err != nil {
		return Result{}, fmt.Errorf("failed to persist execution context: %w", err)
	}

	if !outcome.Completed {
		data, err := json.Marshal(resumePayload{NodeID: outcome.WaitNodeID})
		if err != nil {
			return Result{}, fmt.Errorf("failed to marshal resume payload: %w", err)
		}
		delay := time.Until(outcome.ResumeAt)
		if delay < 0 {
			delay = 0
		}
		if _, err := p.enqueuer.Enqueue(ctx, domain.JobTypeDelayedResume, domain.JobPayload{
			WorkflowID:     job.Payload.WorkflowID,
			OrganizationID: job.Payload.OrganizationID,
			ExecutionID:    job.Payload.ExecutionID,
			Data:           data,
		}, queue.EnqueueOptions{Delay: delay}); err != nil {
			return Result{}, fmt.Errorf("failed to enqueue delayed resume: %w", err)
		}
		progress(100)
		return Result{
			Message: "execution parked on wait step",
			Output:  map[string]interface{}{"wait_node_id": outcome.WaitNodeID},
		}, nil
	}

	progress(100)
	return Result{Message: "execution resumed to completion"}, nil
}

// OnSuccess mirrors the workflow processor: only a fully completed run
// transitions the record.
func (p *DelayedResumeProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	if _, parked := result.Output["wait_node_id"]; parked {
		return
	}
	if err := p.executions.UpdateExecutionStatus(ctx, job.Payload.ExecutionID, domain.ExecutionStatusCompleted, ""); err != nil {
		p.logger.Error("failed to mark execution completed",
			"execution_id", job.Payload.ExecutionID, "error", err)
	}
}

// OnFailure marks the run failed; the delayed queue does not retry.
func (p *DelayedResumeProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	if err := p.executions.UpdateExecutionStatus(ctx, job.Payload.ExecutionID, domain.ExecutionStatusFailed, jobErr.Error()); err != nil {
		p.logger.Error("failed to mark execution failed",
			"execution_id", job.Payload.ExecutionID, "error", err)
	}
}
