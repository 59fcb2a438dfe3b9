package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/store"
	"github.com/google/uuid"
)

// EnqueueOptions are the caller-tunable knobs for a single enqueue.
// Zero values fall back to the owning queue's defaults.
type EnqueueOptions struct {
	Priority    domain.Priority
	Delay       time.Duration
	MaxAttempts int
	Backoff     *domain.BackoffPolicy

	// JobKey makes the enqueue idempotent: a second enqueue with the
	// same key before the first completes fails with ErrDuplicateJob.
	JobKey string
}

// JobQueueSet exposes the three logical queues over the broker and owns
// job creation, cancellation and queue-level admin operations.
type JobQueueSet struct {
	broker     Broker
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	policies   map[string]RetryPolicy
	logger     *slog.Logger
}

// NewJobQueueSet creates the queue set with per-queue default policies.
func NewJobQueueSet(broker Broker, workflows store.WorkflowStore, executions store.ExecutionStore, logger *slog.Logger) *JobQueueSet {
	return &JobQueueSet{
		broker:     broker,
		workflows:  workflows,
		executions: executions,
		policies:   DefaultPolicies(),
		logger:     logger.With("component", "job_queue_set"),
	}
}

// Policy returns the retry policy of the named queue.
func (s *JobQueueSet) Policy(queue string) RetryPolicy {
	return s.policies[queue]
}

// Broker exposes the underlying broker capability to collaborating
// subsystems (workers, health service).
func (s *JobQueueSet) Broker() Broker {
	return s.broker
}

// Enqueue creates a job of the given type on its home queue and hands
// it to the broker.
func (s *JobQueueSet) Enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload, opts EnqueueOptions) (*domain.Job, error) {
	queueName := QueueForType(jobType)
	policy := s.policies[queueName]

	priority := opts.Priority
	if priority == "" {
		priority = domain.PriorityDefault
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPriority, opts.Priority)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}
	backoff := policy.Backoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}

	job := &domain.Job{
		ID:          uuid.New(),
		Type:        jobType,
		Queue:       queueName,
		Payload:     payload,
		Priority:    priority,
		JobKey:      opts.JobKey,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		CreatedAt:   time.Now().UTC(),
	}
	if opts.Delay > 0 {
		job.NotBefore = time.Now().Add(opts.Delay)
	}

	if err := s.broker.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Debug("job enqueued",
		"job_id", job.ID,
		"job_type", job.Type,
		"queue", job.Queue,
		"priority", job.Priority,
		"delay", opts.Delay)
	return job, nil
}

// EnqueueWorkflowExecution creates an execution record and its backing
// job for one workflow run, returning the execution ID. Fails fast with
// store.ErrWorkflowNotFound when no workflow matches and with
// domain.ErrWorkflowNotActive when the workflow is not active; nothing
// is queued in either case.
func (s *JobQueueSet) EnqueueWorkflowExecution(ctx context.Context, workflowID uuid.UUID, triggerData map[string]interface{}, opts EnqueueOptions) (uuid.UUID, error) {
	workflow, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return uuid.Nil, err
	}
	if !workflow.Executable() {
		return uuid.Nil, fmt.Errorf("%w: workflow %s has status %q", domain.ErrWorkflowNotActive, workflowID, workflow.Status)
	}

	record := domain.NewExecutionRecord(workflowID, workflow.OrganizationID, triggerData)

	job, err := s.Enqueue(ctx, domain.JobTypeWorkflowExecution, domain.JobPayload{
		WorkflowID:     workflowID,
		OrganizationID: workflow.OrganizationID,
		ExecutionID:    record.ID,
		TriggerData:    triggerData,
	}, opts)
	if err != nil {
		return uuid.Nil, err
	}

	record.JobID = job.ID
	record.Queue = job.Queue
	if err := s.executions.CreateExecution(ctx, record); err != nil {
		// The job is already queued; removing it keeps enqueue all-or-nothing.
		if _, rmErr := s.broker.Remove(ctx, job.Queue, job.ID); rmErr != nil {
			s.logger.Error("failed to remove job after execution create failure",
				"job_id", job.ID, "error", rmErr)
		}
		return uuid.Nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	s.logger.Info("workflow execution enqueued",
		"execution_id", record.ID,
		"workflow_id", workflowID,
		"job_id", job.ID,
		"queue", job.Queue)
	return record.ID, nil
}

// EnqueueRecovered re-enqueues a dead-lettered job snapshot with
// elevated priority and a reduced attempt budget, tagged with recovery
// metadata so it is distinguishable from a fresh job.
func (s *JobQueueSet) EnqueueRecovered(ctx context.Context, snapshot domain.JobSnapshot, attempt int, strategy string, delay time.Duration) (*domain.Job, error) {
	job := &domain.Job{
		ID:          uuid.New(),
		Type:        snapshot.Type,
		Queue:       snapshot.Queue,
		Payload:     snapshot.Payload,
		Priority:    domain.PriorityHigh,
		MaxAttempts: 2,
		Backoff:     s.policies[snapshot.Queue].Backoff,
		Recovery: &domain.RecoveryMetadata{
			OriginalJobID: snapshot.JobID,
			Attempt:       attempt,
			Strategy:      strategy,
		},
		CreatedAt: time.Now().UTC(),
	}
	if delay > 0 {
		job.NotBefore = time.Now().Add(delay)
	}

	if err := s.broker.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("recovered job re-enqueued",
		"job_id", job.ID,
		"original_job_id", snapshot.JobID,
		"recovery_attempt", attempt,
		"strategy", strategy)
	return job, nil
}

// GetExecution returns one execution record.
func (s *JobQueueSet) GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.ExecutionRecord, error) {
	return s.executions.GetExecution(ctx, executionID)
}

// CancelExecution cancels a workflow run. A waiting or delayed job is
// removed from its queue outright; an active job cannot be preempted
// mid-execution, but the execution record is still marked cancelled so
// downstream consumers treat the eventual result as void.
func (s *JobQueueSet) CancelExecution(ctx context.Context, executionID uuid.UUID) error {
	record, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if record.Status == domain.ExecutionStatusCancelled {
		return nil
	}

	removed := false
	if record.JobID != uuid.Nil {
		removed, err = s.broker.Remove(ctx, record.Queue, record.JobID)
		if err != nil && !errors.Is(err, ErrBrokerUnavailable) {
			return fmt.Errorf("failed to remove job: %w", err)
		}
	}

	if err := s.executions.UpdateExecutionStatus(ctx, executionID, domain.ExecutionStatusCancelled, "cancelled by caller"); err != nil {
		return err
	}

	s.logger.Info("execution cancelled",
		"execution_id", executionID,
		"job_removed", removed)
	return nil
}

// Stats returns the broker counters for the named queue.
func (s *JobQueueSet) Stats(ctx context.Context, queue string) (QueueStats, error) {
	return s.broker.Stats(ctx, queue)
}

// Pause stops leasing on one queue.
func (s *JobQueueSet) Pause(ctx context.Context, queue string) error {
	return s.broker.Pause(ctx, queue)
}

// Resume restarts leasing on one queue.
func (s *JobQueueSet) Resume(ctx context.Context, queue string) error {
	return s.broker.Resume(ctx, queue)
}

// PauseAll pauses every queue, logging the operator-supplied reason.
func (s *JobQueueSet) PauseAll(ctx context.Context, reason string) error {
	for _, q := range QueueNames() {
		if err := s.broker.Pause(ctx, q); err != nil {
			return fmt.Errorf("failed to pause queue %q: %w", q, err)
		}
	}
	s.logger.Warn("all queues paused", "reason", reason)
	return nil
}

// ResumeAll resumes every queue, logging the operator-supplied reason.
func (s *JobQueueSet) ResumeAll(ctx context.Context, reason string) error {
	for _, q := range QueueNames() {
		if err := s.broker.Resume(ctx, q); err != nil {
			return fmt.Errorf("failed to resume queue %q: %w", q, err)
		}
	}
	s.logger.Info("all queues resumed", "reason", reason)
	return nil
}
