package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresTriggerStore implements the store.TriggerStore interface
// using PostgreSQL.
type PostgresTriggerStore struct {
	db store.DBTX
}

// NewPostgresTriggerStore creates a new PostgresTriggerStore.
func NewPostgresTriggerStore(db store.DBTX) *PostgresTriggerStore {
	return &PostgresTriggerStore{db: db}
}

// SaveTrigger inserts or replaces a schedule trigger.
func (s *PostgresTriggerStore) SaveTrigger(ctx context.Context, trigger *domain.ScheduleTrigger) error {
	log := logger.FromContext(ctx)

	cfg, err := json.Marshal(trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule config: %w", err)
	}

	query := `
		INSERT INTO schedule_triggers
			(id, workflow_id, type, config, next_run_at, last_run_at,
			 active, run_count, error_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			config = EXCLUDED.config,
			next_run_at = EXCLUDED.next_run_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.WorkflowID,
		trigger.Type,
		cfg,
		trigger.NextRunAt,
		trigger.LastRunAt,
		trigger.Active,
		trigger.RunCount,
		trigger.ErrorCount,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save trigger",
			"trigger_id", trigger.ID,
			"workflow_id", trigger.WorkflowID,
			"error", err)
		return fmt.Errorf("failed to save trigger: %w", MapError(err))
	}
	return nil
}

// GetTrigger retrieves a trigger by ID.
func (s *PostgresTriggerStore) GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduleTrigger, error) {
	query := `
		SELECT id, workflow_id, type, config, next_run_at, last_run_at,
		       active, run_count, error_count, created_at, updated_at
		FROM schedule_triggers
		WHERE id = $1
	`
	return s.scanTrigger(s.db.QueryRowContext(ctx, query, id))
}

// DeactivateTrigger clears the active flag.
func (s *PostgresTriggerStore) DeactivateTrigger(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE schedule_triggers
		SET active = FALSE, updated_at = $1
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to deactivate trigger", "trigger_id", id, "error", err)
		return fmt.Errorf("failed to deactivate trigger: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTriggerNotFound)
}

// ListDueTriggers returns active triggers due at or before the given
// instant, longest overdue first.
func (s *PostgresTriggerStore) ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduleTrigger, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, workflow_id, type, config, next_run_at, last_run_at,
		       active, run_count, error_count, created_at, updated_at
		FROM schedule_triggers
		WHERE active = TRUE AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		log.Error("failed to list due triggers", "error", err)
		return nil, fmt.Errorf("failed to list due triggers: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var triggers []*domain.ScheduleTrigger
	for rows.Next() {
		trigger, err := s.scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trigger rows: %w", err)
	}
	return triggers, nil
}

// MarkFired conditionally records a fire. The WHERE clause on the
// previous next_run_at makes the advance a compare-and-swap, so two
// concurrent firers cannot both claim the same occurrence.
func (s *PostgresTriggerStore) MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time, prevNextRun, nextRun time.Time) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE schedule_triggers
		SET last_run_at = $1,
		    next_run_at = $2,
		    run_count = run_count + 1,
		    updated_at = $1
		WHERE id = $3 AND next_run_at = $4 AND active = TRUE
	`
	result, err := s.db.ExecContext(ctx, query, firedAt, nullTime(nextRun), id, prevNextRun)
	if err != nil {
		log.Error("failed to mark trigger fired", "trigger_id", id, "error", err)
		return false, fmt.Errorf("failed to mark trigger fired: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// IncrementTriggerError bumps the trigger's error counter.
func (s *PostgresTriggerStore) IncrementTriggerError(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE schedule_triggers
		SET error_count = error_count + 1, updated_at = $1
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to increment trigger error count", "trigger_id", id, "error", err)
		return fmt.Errorf("failed to increment trigger error count: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTriggerNotFound)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresTriggerStore) scanTrigger(row scanner) (*domain.ScheduleTrigger, error) {
	var (
		trigger   domain.ScheduleTrigger
		cfg       []byte
		nextRunAt sql.NullTime
	)
	err := row.Scan(
		&trigger.ID,
		&trigger.WorkflowID,
		&trigger.Type,
		&cfg,
		&nextRunAt,
		&trigger.LastRunAt,
		&trigger.Active,
		&trigger.RunCount,
		&trigger.ErrorCount,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("failed to scan trigger: %w", MapError(err))
	}

	if nextRunAt.Valid {
		trigger.NextRunAt = nextRunAt.Time
	}
	if err := json.Unmarshal(cfg, &trigger.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule config: %w", err)
	}
	return &trigger, nil
}

// nullTime converts the zero time to a SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
