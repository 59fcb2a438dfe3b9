package store

import (
	"context"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// LeadStore defines the interface for lead persistence used by the
// lead-qualification processor.
type LeadStore interface {
	// GetLead retrieves a lead by ID.
	// Returns ErrLeadNotFound if the lead does not exist.
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)

	// UpdateLeadScore stores a computed score and derived tag set.
	UpdateLeadScore(ctx context.Context, id uuid.UUID, score int, tags []string) error
}
