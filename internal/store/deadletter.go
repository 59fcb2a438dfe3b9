package store

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// DeadLetterStore defines the interface for persisting dead-letter jobs.
// The persisted row is the single source of truth for recovery attempt
// counters; re-enqueue metadata is derived from it, never the reverse.
type DeadLetterStore interface {
	// SaveDeadLetterJob persists a new dead-letter job.
	SaveDeadLetterJob(ctx context.Context, job *domain.DeadLetterJob) error

	// GetDeadLetterJob retrieves a dead-letter job by ID.
	// Returns ErrDeadLetterNotFound if it does not exist.
	GetDeadLetterJob(ctx context.Context, id uuid.UUID) (*domain.DeadLetterJob, error)

	// FindDeadLetterJobByJobID retrieves the entry whose original job
	// snapshot carries the given job ID. Used to re-open the entry when
	// a recovery re-enqueue fails again.
	// Returns ErrDeadLetterNotFound if no entry matches.
	FindDeadLetterJobByJobID(ctx context.Context, jobID uuid.UUID) (*domain.DeadLetterJob, error)

	// ListPendingDeadLetterJobs returns unprocessed entries whose next
	// attempt time has passed, highest dead-letter priority first.
	ListPendingDeadLetterJobs(ctx context.Context, now time.Time, limit int) ([]*domain.DeadLetterJob, error)

	// UpdateDeadLetterJob persists recovery state and status changes.
	UpdateDeadLetterJob(ctx context.Context, job *domain.DeadLetterJob) error

	// CountRecentFailures returns how many dead-letter entries share the
	// given workflow and error signature since the given time. Used for
	// recurrence detection.
	CountRecentFailures(ctx context.Context, workflowID uuid.UUID, signature string, since time.Time) (int, error)

	// PurgeDeadLetterJobsOlderThan removes terminal entries older than
	// the cutoff, returning the number removed.
	PurgeDeadLetterJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
