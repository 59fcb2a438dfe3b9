package store

import (
	"context"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// WorkflowStore provides read access to workflow definitions. Workflows
// are authored elsewhere; the queue core only reads them to gate
// enqueues and to hand them to the executor.
type WorkflowStore interface {
	// GetWorkflow retrieves a workflow by ID.
	// Returns ErrWorkflowNotFound if the workflow does not exist.
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
}
