package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresWorkflowStore implements the store.WorkflowStore interface
// using PostgreSQL.
type PostgresWorkflowStore struct {
	db store.DBTX
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db store.DBTX) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// GetWorkflow retrieves a workflow by ID.
func (s *PostgresWorkflowStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, organization_id, name, status, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	var workflow domain.Workflow
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&workflow.Name,
		&workflow.Status,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrWorkflowNotFound
		}
		log.Error("failed to get workflow", "workflow_id", id, "error", err)
		return nil, fmt.Errorf("failed to get workflow: %w", MapError(err))
	}

	return &workflow, nil
}
