package postgres

import (
	"context"
	"fmt"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresManualTaskStore implements the store.ManualTaskStore
// interface using PostgreSQL.
type PostgresManualTaskStore struct {
	db store.DBTX
}

// NewPostgresManualTaskStore creates a new PostgresManualTaskStore.
func NewPostgresManualTaskStore(db store.DBTX) *PostgresManualTaskStore {
	return &PostgresManualTaskStore{db: db}
}

// CreateManualTask persists a new operator task.
func (s *PostgresManualTaskStore) CreateManualTask(ctx context.Context, task *domain.ManualTask) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO manual_tasks
			(id, dead_letter_job_id, organization_id, title, description, severity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.DeadLetterJobID,
		nullUUID(task.OrganizationID),
		task.Title,
		task.Description,
		task.Severity,
		task.Status,
		task.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create manual task",
			"task_id", task.ID,
			"dead_letter_id", task.DeadLetterJobID,
			"error", err)
		return fmt.Errorf("failed to create manual task: %w", MapError(err))
	}
	return nil
}
