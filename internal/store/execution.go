package store

import (
	"context"
	"database/sql"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// ExecutionStore defines the interface for persisting execution records.
type ExecutionStore interface {
	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, record *domain.ExecutionRecord) error

	// GetExecution retrieves an execution record by ID.
	// Returns ErrExecutionNotFound if the record does not exist.
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.ExecutionRecord, error)

	// UpdateExecutionStatus transitions an execution record's status and
	// records an optional error message. The update is conditional:
	// terminal states are never transitioned out of, and an update
	// blocked by that invariant returns domain.ErrTerminalStatus.
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errorMsg string) error

	// UpdateExecutionContext replaces the stored execution context
	// (variables, current node, path) for an in-flight run.
	UpdateExecutionContext(ctx context.Context, id uuid.UUID, execCtx domain.ExecutionContext) error

	// WithTx returns a new ExecutionStore instance that uses the
	// provided transaction.
	WithTx(tx *sql.Tx) ExecutionStore
}
