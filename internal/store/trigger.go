package store

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// TriggerStore defines the interface for persisting schedule triggers.
type TriggerStore interface {
	// SaveTrigger inserts or replaces a schedule trigger.
	SaveTrigger(ctx context.Context, trigger *domain.ScheduleTrigger) error

	// GetTrigger retrieves a trigger by ID.
	// Returns ErrTriggerNotFound if the trigger does not exist.
	GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduleTrigger, error)

	// DeactivateTrigger clears the active flag. Triggers are
	// deactivated, never deleted.
	DeactivateTrigger(ctx context.Context, id uuid.UUID) error

	// ListDueTriggers returns active triggers whose next run time is at
	// or before the given instant.
	ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduleTrigger, error)

	// MarkFired conditionally records a fire: it updates last_run_at,
	// next_run_at and the run counter only if next_run_at still equals
	// prevNextRun. Returns false when the conditional update affected no
	// rows, meaning another firer won the race.
	MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time, prevNextRun, nextRun time.Time) (bool, error)

	// IncrementTriggerError bumps the trigger's error counter.
	IncrementTriggerError(ctx context.Context, id uuid.UUID) error
}
