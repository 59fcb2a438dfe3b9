package store

import (
	"context"

	"github.com/driftware/flowengine/internal/domain"
)

// ManualTaskStore defines the interface for creating operator tasks.
type ManualTaskStore interface {
	// CreateManualTask persists a new manual task.
	CreateManualTask(ctx context.Context, task *domain.ManualTask) error
}
