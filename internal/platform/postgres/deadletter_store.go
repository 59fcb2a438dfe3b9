package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresDeadLetterStore implements the store.DeadLetterStore
// interface using PostgreSQL. The structured sections of an entry
// (snapshot, error, context, recovery, metadata) are stored as JSONB;
// the columns queried by the pipeline (status, priority, next attempt
// time, workflow, signature) are lifted out for indexing.
type PostgresDeadLetterStore struct {
	db store.DBTX
}

// NewPostgresDeadLetterStore creates a new PostgresDeadLetterStore.
func NewPostgresDeadLetterStore(db store.DBTX) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{db: db}
}

// SaveDeadLetterJob persists a new dead-letter entry.
func (s *PostgresDeadLetterStore) SaveDeadLetterJob(ctx context.Context, job *domain.DeadLetterJob) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	query := `
		INSERT INTO dead_letter_jobs
			(id, job_id, workflow_id, signature, status, priority,
			 next_attempt_at, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Original.JobID,
		nullUUID(job.Metadata.WorkflowID),
		job.ErrorSignature(),
		job.Status,
		job.Metadata.Priority,
		job.Recovery.NextAttemptAt,
		body,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save dead-letter entry",
			"dead_letter_id", job.ID,
			"job_id", job.Original.JobID,
			"error", err)
		return fmt.Errorf("failed to save dead-letter entry: %w", MapError(err))
	}
	return nil
}

// GetDeadLetterJob retrieves an entry by ID.
func (s *PostgresDeadLetterStore) GetDeadLetterJob(ctx context.Context, id uuid.UUID) (*domain.DeadLetterJob, error) {
	query := `SELECT body FROM dead_letter_jobs WHERE id = $1`
	return s.scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// FindDeadLetterJobByJobID retrieves the entry for the given original
// job.
func (s *PostgresDeadLetterStore) FindDeadLetterJobByJobID(ctx context.Context, jobID uuid.UUID) (*domain.DeadLetterJob, error) {
	query := `SELECT body FROM dead_letter_jobs WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	return s.scanEntry(s.db.QueryRowContext(ctx, query, jobID))
}

// ListPendingDeadLetterJobs returns due pending entries, highest
// priority first.
func (s *PostgresDeadLetterStore) ListPendingDeadLetterJobs(ctx context.Context, now time.Time, limit int) ([]*domain.DeadLetterJob, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT body
		FROM dead_letter_jobs
		WHERE status = 'pending'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		log.Error("failed to list pending dead-letter entries", "error", err)
		return nil, fmt.Errorf("failed to list pending dead-letter entries: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.DeadLetterJob
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead-letter rows: %w", err)
	}
	return entries, nil
}

// UpdateDeadLetterJob persists recovery state and status changes.
func (s *PostgresDeadLetterStore) UpdateDeadLetterJob(ctx context.Context, job *domain.DeadLetterJob) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	query := `
		UPDATE dead_letter_jobs
		SET status = $1, next_attempt_at = $2, body = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Recovery.NextAttemptAt,
		body,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		log.Error("failed to update dead-letter entry", "dead_letter_id", job.ID, "error", err)
		return fmt.Errorf("failed to update dead-letter entry: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrDeadLetterNotFound)
}

// CountRecentFailures counts entries sharing the workflow and error
// signature since the given time.
func (s *PostgresDeadLetterStore) CountRecentFailures(ctx context.Context, workflowID uuid.UUID, signature string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM dead_letter_jobs
		WHERE workflow_id = $1 AND signature = $2 AND created_at >= $3
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, nullUUID(workflowID), signature, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent failures: %w", MapError(err))
	}
	return count, nil
}

// PurgeDeadLetterJobsOlderThan removes terminal entries past the
// retention cutoff.
func (s *PostgresDeadLetterStore) PurgeDeadLetterJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM dead_letter_jobs
		WHERE updated_at < $1
		  AND status IN ('recovered', 'manual_task', 'escalated')
	`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-letter entries: %w", MapError(err))
	}
	return result.RowsAffected()
}

func (s *PostgresDeadLetterStore) scanEntry(row scanner) (*domain.DeadLetterJob, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to scan dead-letter entry: %w", MapError(err))
	}

	var entry domain.DeadLetterJob
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead-letter entry: %w", err)
	}
	return &entry, nil
}
