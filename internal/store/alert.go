package store

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// AlertStore defines the interface for persisting health alerts.
type AlertStore interface {
	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, alert *domain.Alert) error

	// ListAlerts returns alerts, newest first. When activeOnly is set,
	// resolved alerts are excluded.
	ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]*domain.Alert, error)

	// AcknowledgeAlert marks an alert acknowledged.
	// Returns ErrAlertNotFound if the alert does not exist.
	AcknowledgeAlert(ctx context.Context, id uuid.UUID) error

	// ResolveAlert marks an alert resolved.
	// Returns ErrAlertNotFound if the alert does not exist.
	ResolveAlert(ctx context.Context, id uuid.UUID) error

	// ResolveAlertsOlderThan auto-resolves untouched alerts older than
	// the cutoff, returning the number resolved.
	ResolveAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
