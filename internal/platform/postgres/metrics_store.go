package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresMetricsStore implements the store.MetricsStore interface
// using PostgreSQL.
type PostgresMetricsStore struct {
	db store.DBTX
}

// NewPostgresMetricsStore creates a new PostgresMetricsStore.
func NewPostgresMetricsStore(db store.DBTX) *PostgresMetricsStore {
	return &PostgresMetricsStore{db: db}
}

// SaveSnapshot persists one health-check observation.
func (s *PostgresMetricsStore) SaveSnapshot(ctx context.Context, snapshot *domain.MetricsSnapshot) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}

	query := `
		INSERT INTO metrics_snapshots (id, status, body, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = s.db.ExecContext(ctx, query, snapshot.ID, snapshot.Status, body, snapshot.CreatedAt)
	if err != nil {
		log.Error("failed to save metrics snapshot", "snapshot_id", snapshot.ID, "error", err)
		return fmt.Errorf("failed to save metrics snapshot: %w", MapError(err))
	}
	return nil
}

// ListSnapshots returns snapshots recorded at or after the given time,
// oldest first.
func (s *PostgresMetricsStore) ListSnapshots(ctx context.Context, since time.Time, limit int) ([]*domain.MetricsSnapshot, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT body
		FROM metrics_snapshots
		WHERE created_at >= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		log.Error("failed to list metrics snapshots", "error", err)
		return nil, fmt.Errorf("failed to list metrics snapshots: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var snapshots []*domain.MetricsSnapshot
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", MapError(err))
		}
		var snapshot domain.MetricsSnapshot
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics snapshot: %w", err)
		}
		snapshots = append(snapshots, &snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return snapshots, nil
}

// PurgeSnapshotsOlderThan removes snapshots past the retention window.
func (s *PostgresMetricsStore) PurgeSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM metrics_snapshots WHERE created_at < $1`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge metrics snapshots: %w", MapError(err))
	}
	return result.RowsAffected()
}
