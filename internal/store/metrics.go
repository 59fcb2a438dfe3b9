package store

import (
	"context"
	"time"

	"github.com/driftware/flowengine/internal/domain"
)

// MetricsStore defines the interface for persisting health-check
// snapshots.
type MetricsStore interface {
	// SaveSnapshot persists one health-check observation.
	SaveSnapshot(ctx context.Context, snapshot *domain.MetricsSnapshot) error

	// ListSnapshots returns snapshots recorded at or after the given
	// time, oldest first.
	ListSnapshots(ctx context.Context, since time.Time, limit int) ([]*domain.MetricsSnapshot, error)

	// PurgeSnapshotsOlderThan removes snapshots past the retention
	// window, returning the number removed.
	PurgeSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
