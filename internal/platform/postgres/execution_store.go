package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresExecutionStore implements the store.ExecutionStore interface
// using PostgreSQL.
type PostgresExecutionStore struct {
	db store.DBTX
}

// NewPostgresExecutionStore creates a new PostgresExecutionStore.
func NewPostgresExecutionStore(db store.DBTX) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

// WithTx returns a new store instance bound to the given transaction.
func (s *PostgresExecutionStore) WithTx(tx *sql.Tx) store.ExecutionStore {
	return &PostgresExecutionStore{db: tx}
}

// CreateExecution persists a new execution record.
func (s *PostgresExecutionStore) CreateExecution(ctx context.Context, record *domain.ExecutionRecord) error {
	log := logger.FromContext(ctx)

	triggerData, err := json.Marshal(record.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}
	execCtx, err := json.Marshal(record.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO executions
			(id, workflow_id, organization_id, job_id, queue, status,
			 trigger_data, context, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowID,
		record.OrganizationID,
		nullUUID(record.JobID),
		record.Queue,
		record.Status,
		triggerData,
		execCtx,
		record.ErrorMessage,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create execution record",
			"execution_id", record.ID,
			"workflow_id", record.WorkflowID,
			"error", err)
		return fmt.Errorf("failed to create execution record: %w", MapError(err))
	}
	return nil
}

// GetExecution retrieves an execution record by ID.
func (s *PostgresExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*domain.ExecutionRecord, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, workflow_id, organization_id, job_id, queue, status,
		       trigger_data, context, error_message, started_at,
		       completed_at, created_at, updated_at
		FROM executions
		WHERE id = $1
	`

	var (
		record       domain.ExecutionRecord
		jobID        sql.NullString
		queueName    sql.NullString
		triggerData  []byte
		execCtx      []byte
		errorMessage sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.WorkflowID,
		&record.OrganizationID,
		&jobID,
		&queueName,
		&record.Status,
		&triggerData,
		&execCtx,
		&errorMessage,
		&record.StartedAt,
		&record.CompletedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrExecutionNotFound
		}
		log.Error("failed to get execution record", "execution_id", id, "error", err)
		return nil, fmt.Errorf("failed to get execution record: %w", MapError(err))
	}

	if jobID.Valid {
		parsed, err := uuid.Parse(jobID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse job id: %w", err)
		}
		record.JobID = parsed
	}
	record.Queue = queueName.String
	record.ErrorMessage = errorMessage.String

	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &record.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}
	if len(execCtx) > 0 {
		if err := json.Unmarshal(execCtx, &record.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	return &record, nil
}

// UpdateExecutionStatus transitions the record's status. The transition
// guard is pushed into the UPDATE itself: a row in a terminal state
// never matches, so concurrent finishers and cancellers cannot clobber
// each other.
func (s *PostgresExecutionStore) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errorMsg string) error {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	query := `
		UPDATE executions
		SET status = $1,
		    error_message = $2,
		    started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE completed_at END,
		    updated_at = $3
		WHERE id = $4
		  AND status NOT IN ('completed', 'failed', 'cancelled')
	`
	result, err := s.db.ExecContext(ctx, query, status, errorMsg, now, id)
	if err != nil {
		log.Error("failed to update execution status",
			"execution_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to update execution status: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the record is gone or it already reached a terminal
		// state. Distinguish so callers can treat the latter as a
		// blocked transition rather than missing data.
		if _, getErr := s.GetExecution(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: execution %s", domain.ErrTerminalStatus, id)
	}
	return nil
}

// UpdateExecutionContext replaces the stored execution context.
func (s *PostgresExecutionStore) UpdateExecutionContext(ctx context.Context, id uuid.UUID, execCtx domain.ExecutionContext) error {
	log := logger.FromContext(ctx)

	data, err := json.Marshal(execCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		UPDATE executions
		SET context = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, data, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update execution context", "execution_id", id, "error", err)
		return fmt.Errorf("failed to update execution context: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrExecutionNotFound)
}

// nullUUID converts the zero UUID to a SQL NULL.
func nullUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}
