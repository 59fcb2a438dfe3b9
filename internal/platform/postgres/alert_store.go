package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresAlertStore implements the store.AlertStore interface using
// PostgreSQL.
type PostgresAlertStore struct {
	db store.DBTX
}

// NewPostgresAlertStore creates a new PostgresAlertStore.
func NewPostgresAlertStore(db store.DBTX) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

// CreateAlert persists a new alert.
func (s *PostgresAlertStore) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	log := logger.FromContext(ctx)

	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal alert details: %w", err)
	}

	query := `
		INSERT INTO alerts
			(id, severity, component, message, details, acknowledged, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		alert.ID,
		alert.Severity,
		alert.Component,
		alert.Message,
		details,
		alert.Acknowledged,
		alert.ResolvedAt,
		alert.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create alert",
			"alert_id", alert.ID,
			"component", alert.Component,
			"error", err)
		return fmt.Errorf("failed to create alert: %w", MapError(err))
	}
	return nil
}

// ListAlerts returns alerts, newest first.
func (s *PostgresAlertStore) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]*domain.Alert, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, severity, component, message, details, acknowledged, resolved_at, created_at
		FROM alerts
	`
	if activeOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to list alerts", "error", err)
		return nil, fmt.Errorf("failed to list alerts: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var alerts []*domain.Alert
	for rows.Next() {
		var (
			alert   domain.Alert
			details []byte
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.Severity,
			&alert.Component,
			&alert.Message,
			&details,
			&alert.Acknowledged,
			&alert.ResolvedAt,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", MapError(err))
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &alert.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert details: %w", err)
			}
		}
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (s *PostgresAlertStore) AcknowledgeAlert(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE alerts SET acknowledged = TRUE WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrAlertNotFound)
}

// ResolveAlert marks an alert resolved.
func (s *PostgresAlertStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE alerts SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrAlertNotFound)
}

// ResolveAlertsOlderThan auto-resolves unresolved alerts created before
// the cutoff.
func (s *PostgresAlertStore) ResolveAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE alerts SET resolved_at = $1 WHERE resolved_at IS NULL AND created_at < $2`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to auto-resolve alerts: %w", MapError(err))
	}
	return result.RowsAffected()
}
