package deadletter

import (
	"context"
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

// RecoveryQueue is the slice of the job queue set the pipeline uses to
// re-enqueue recovered jobs.
type RecoveryQueue interface {
	EnqueueRecovered(ctx context.Context, snapshot domain.JobSnapshot, attempt int, strategy string, delay time.Duration) (*domain.Job, error)
}

// UpstreamProbe reports whether the upstream a job type depends on is
// currently healthy. A degraded upstream turns recovery into a delayed
// retry instead of an immediate re-enqueue.
type UpstreamProbe interface {
	Healthy(ctx context.Context, jobType domain.JobType) bool
}

// Notifier delivers out-of-band notifications for critical dead-letter
// entries and escalations.
type Notifier interface {
	Notify(ctx context.Context, entry *domain.DeadLetterJob) error
}

// Pipeline ingests exhausted jobs, classifies them, and works through
// pending entries on a fixed cadence choosing exactly one recovery
// action per entry per pass.
type Pipeline struct {
	entries  store.DeadLetterStore
	issues   store.KnownIssueStore
	tasks    store.ManualTaskStore
	queues   RecoveryQueue
	probe    UpstreamProbe
	notifier Notifier
	cfg      config.DeadLetterConfig
	logger   *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewPipeline creates the dead-letter pipeline. probe and notifier may
// be nil; a nil probe treats every upstream as healthy.
func NewPipeline(entries store.DeadLetterStore, issues store.KnownIssueStore, tasks store.ManualTaskStore, queues RecoveryQueue, probe UpstreamProbe, notifier Notifier, cfg config.DeadLetterConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		entries:  entries,
		issues:   issues,
		tasks:    tasks,
		queues:   queues,
		probe:    probe,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "dead_letter_pipeline"),
		now:      time.Now,
	}
}

// Submit ingests a job that exhausted its ordinary retries. A failed
// recovery re-enqueue re-opens its original entry instead of creating a
// second one, so the persisted row stays the single source of truth for
// the recovery attempt counter.
func (p *Pipeline) Submit(ctx context.Context, job *domain.Job, jobErr error, workerName string) error {
	now := p.now().UTC()

	if job.Recovery != nil {
		entry, err := p.entries.FindDeadLetterJobByJobID(ctx, job.Recovery.OriginalJobID)
		if err == nil {
			return p.reopen(ctx, entry, jobErr, now)
		}
		if !errors.Is(err, store.ErrDeadLetterNotFound) {
			return fmt.Errorf("failed to look up original dead-letter entry: %w", err)
		}
		// No original entry; fall through and record it fresh.
	}

	classification := Classify(jobErr.Error())
	pol := policyFor(classification)

	entry := &domain.DeadLetterJob{
		ID: uuid.New(),
		Original: domain.JobSnapshot{
			JobID:        job.ID,
			Type:         job.Type,
			Queue:        job.Queue,
			Payload:      job.Payload,
			AttemptsMade: job.AttemptsMade,
		},
		Error: domain.FailureDetail{Message: jobErr.Error()},
		Context: domain.FailureContext{
			Queue:         job.Queue,
			WorkerName:    workerName,
			FirstFailedAt: now,
			LastFailedAt:  now,
		},
		Recovery: domain.RecoveryState{
			Classification: classification,
			Strategy:       pol.Strategy,
			IsRecoverable:  pol.Recoverable,
			MaxAttempts:    pol.MaxAttempts,
		},
		Metadata: domain.DeadLetterMetadata{
			OrganizationID: job.Payload.OrganizationID,
			WorkflowID:     job.Payload.WorkflowID,
			Priority:       pol.Priority,
		},
		Status:    domain.DeadLetterStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.entries.SaveDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to save dead-letter entry: %w", err)
	}

	p.logger.Warn("job dead-lettered",
		"dead_letter_id", entry.ID,
		"job_id", job.ID,
		"job_type", job.Type,
		"classification", classification,
		"error", jobErr)

	if entry.Critical() {
		p.notify(ctx, entry)
	}
	return nil
}

// reopen puts a previously recovering entry back in the pending state
// after its recovery re-enqueue failed. The attempt was already counted
// when the recovery was enqueued.
func (p *Pipeline) reopen(ctx context.Context, entry *domain.DeadLetterJob, jobErr error, now time.Time) error {
	entry.Status = domain.DeadLetterStatusPending
	entry.Error.Message = jobErr.Error()
	entry.Context.LastFailedAt = now
	entry.Recovery.NextAttemptAt = nil
	entry.UpdatedAt = now

	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to re-open dead-letter entry: %w", err)
	}
	p.logger.Warn("recovery attempt failed, entry re-opened",
		"dead_letter_id", entry.ID,
		"recovery_attempts", entry.Recovery.Attempts,
		"error", jobErr)
	return nil
}

// Run drives the processing loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	interval := p.cfg.ProcessInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("dead-letter pipeline started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("dead-letter pipeline stopped")
			return
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil {
				p.logger.Error("dead-letter pass failed", "error", err)
			}
		}
	}
}

// ProcessPending runs one pass over due pending entries, highest
// priority first.
func (p *Pipeline) ProcessPending(ctx context.Context) error {
	now := p.now().UTC()
	pending, err := p.entries.ListPendingDeadLetterJobs(ctx, now, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending entries: %w", err)
	}

	for _, entry := range pending {
		if err := p.processEntry(ctx, entry); err != nil {
			p.logger.Error("failed to process dead-letter entry",
				"dead_letter_id", entry.ID, "error", err)
		}
	}
	return nil
}

// processEntry chooses and applies exactly one recovery action:
// workaround, delayed retry, re-enqueue, manual task, or escalation, in
// that order of preference.
func (p *Pipeline) processEntry(ctx context.Context, entry *domain.DeadLetterJob) error {
	now := p.now().UTC()

	// A failure recurring across recoveries is not transient no matter
	// what its classification says.
	if entry.Recovery.IsRecoverable && p.cfg.RecurrenceThreshold > 0 {
		since := now.Add(-p.cfg.RecurrenceWindow)
		count, err := p.entries.CountRecentFailures(ctx, entry.Metadata.WorkflowID, entry.ErrorSignature(), since)
		if err != nil {
			return fmt.Errorf("recurrence check failed: %w", err)
		}
		if count >= p.cfg.RecurrenceThreshold {
			entry.Recovery.IsRecoverable = false
			entry.Metadata.Tags = append(entry.Metadata.Tags, "recurring")
			p.logger.Warn("recurring failure detected, recovery abandoned",
				"dead_letter_id", entry.ID,
				"signature", entry.ErrorSignature(),
				"occurrences", count)
		}
	}

	budgetLeft := entry.Recovery.IsRecoverable && entry.Recovery.Attempts < entry.Recovery.MaxAttempts

	if budgetLeft {
		if applied, err := p.tryWorkaround(ctx, entry, now); err != nil {
			return err
		} else if applied {
			return nil
		}

		if p.probe != nil && !p.probe.Healthy(ctx, entry.Original.Type) {
			return p.delayRetry(ctx, entry, now)
		}

		return p.recover(ctx, entry, now)
	}

	// Persistent failures are code defects; they always escalate rather
	// than wait in an operator's task list. So does any entry that came
	// back failed after its whole budget was spent.
	if entry.Recovery.Classification == domain.ClassificationPersistent ||
		entry.Recovery.Attempts > entry.Recovery.MaxAttempts {
		return p.escalate(ctx, entry, now)
	}
	return p.createManualTask(ctx, entry, now)
}

// tryWorkaround consults the known-issues registry and, when a match
// carries a workaround not yet tried on this entry, applies it and
// re-enqueues the job.
func (p *Pipeline) tryWorkaround(ctx context.Context, entry *domain.DeadLetterJob, now time.Time) (bool, error) {
	if entry.Recovery.LastAction == domain.ActionApplyWorkaround {
		// Tried once already; a second pass means it did not help.
		return false, nil
	}

	issue, err := p.issues.FindMatchingIssue(ctx, entry.Recovery.Classification, entry.Error.Message)
	if err != nil {
		if store.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("known-issue lookup failed: %w", err)
	}
	if issue.Workaround == nil {
		return false, nil
	}

	snapshot := entry.Original
	if len(issue.Workaround.SetTriggerData) > 0 {
		merged := make(map[string]interface{}, len(snapshot.Payload.TriggerData)+len(issue.Workaround.SetTriggerData))
		for k, v := range snapshot.Payload.TriggerData {
			merged[k] = v
		}
		for k, v := range issue.Workaround.SetTriggerData {
			merged[k] = v
		}
		snapshot.Payload.TriggerData = merged
	}

	attempt := entry.Recovery.Attempts + 1
	if _, err := p.queues.EnqueueRecovered(ctx, snapshot, attempt, "workaround", 0); err != nil {
		return false, fmt.Errorf("failed to enqueue workaround retry: %w", err)
	}

	entry.Recovery.Attempts = attempt
	entry.Recovery.LastAction = domain.ActionApplyWorkaround
	entry.Status = domain.DeadLetterStatusRecovering
	entry.UpdatedAt = now
	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to persist workaround state: %w", err)
	}

	p.logger.Info("workaround applied",
		"dead_letter_id", entry.ID,
		"issue_id", issue.ID,
		"recovery_attempt", attempt)
	return true, nil
}

// delayRetry postpones the next recovery attempt while the upstream is
// degraded. A postponement does not consume an attempt.
func (p *Pipeline) delayRetry(ctx context.Context, entry *domain.DeadLetterJob, now time.Time) error {
	delay := recoveryDelay(entry.Recovery.Attempts + 1)
	next := now.Add(delay)
	entry.Recovery.NextAttemptAt = &next
	entry.Recovery.LastAction = domain.ActionDelayRetry
	entry.UpdatedAt = now

	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist delayed retry: %w", err)
	}
	p.logger.Info("recovery delayed, upstream degraded",
		"dead_letter_id", entry.ID,
		"job_type", entry.Original.Type,
		"next_attempt_at", next)
	return nil
}

// recover re-enqueues the job snapshot with elevated priority and a
// jittered delay.
func (p *Pipeline) recover(ctx context.Context, entry *domain.DeadLetterJob, now time.Time) error {
	attempt := entry.Recovery.Attempts + 1
	delay := recoveryDelay(attempt)

	if _, err := p.queues.EnqueueRecovered(ctx, entry.Original, attempt, entry.Recovery.Strategy, delay); err != nil {
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			// Leave the entry pending; the next pass retries.
			return nil
		}
		return fmt.Errorf("failed to enqueue recovery: %w", err)
	}

	entry.Recovery.Attempts = attempt
	entry.Recovery.LastAction = domain.ActionRecover
	entry.Status = domain.DeadLetterStatusRecovering
	entry.UpdatedAt = now
	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist recovery state: %w", err)
	}

	p.logger.Info("recovery enqueued",
		"dead_letter_id", entry.ID,
		"recovery_attempt", attempt,
		"of", entry.Recovery.MaxAttempts,
		"delay", delay)
	return nil
}

// createManualTask hands the entry to an operator.
func (p *Pipeline) createManualTask(ctx context.Context, entry *domain.DeadLetterJob, now time.Time) error {
	severity := domain.AlertSeverityWarning
	if entry.Critical() {
		severity = domain.AlertSeverityCritical
	}

	task := &domain.ManualTask{
		ID:              uuid.New(),
		DeadLetterJobID: entry.ID,
		OrganizationID:  entry.Metadata.OrganizationID,
		Title:           fmt.Sprintf("Recover failed %s job", entry.Original.Type),
		Description: fmt.Sprintf("Job %s (%s) failed with %s error: %s",
			entry.Original.JobID, entry.Original.Type, entry.Recovery.Classification, entry.Error.Message),
		Severity:  severity,
		Status:    domain.ManualTaskStatusOpen,
		CreatedAt: now,
	}
	if err := p.tasks.CreateManualTask(ctx, task); err != nil {
		return fmt.Errorf("failed to create manual task: %w", err)
	}

	entry.Recovery.LastAction = domain.ActionCreateManualTask
	entry.Status = domain.DeadLetterStatusManualTask
	entry.UpdatedAt = now
	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist manual-task state: %w", err)
	}

	p.logger.Warn("manual task created",
		"dead_letter_id", entry.ID,
		"task_id", task.ID,
		"severity", severity)
	return nil
}

// escalate marks the entry escalated and notifies.
func (p *Pipeline) escalate(ctx context.Context, entry *domain.DeadLetterJob, now time.Time) error {
	entry.Recovery.LastAction = domain.ActionEscalate
	entry.Status = domain.DeadLetterStatusEscalated
	entry.UpdatedAt = now
	if err := p.entries.UpdateDeadLetterJob(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist escalation: %w", err)
	}

	p.logger.Error("dead-letter entry escalated",
		"dead_letter_id", entry.ID,
		"job_type", entry.Original.Type,
		"classification", entry.Recovery.Classification,
		"recovery_attempts", entry.Recovery.Attempts)
	p.notify(ctx, entry)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, entry *domain.DeadLetterJob) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, entry); err != nil {
		p.logger.Error("dead-letter notification failed",
			"dead_letter_id", entry.ID, "error", err)
	}
}
