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

// PostgresLeadStore implements the store.LeadStore interface using
// PostgreSQL. Tags are stored as JSONB.
type PostgresLeadStore struct {
	db store.DBTX
}

// NewPostgresLeadStore creates a new PostgresLeadStore.
func NewPostgresLeadStore(db store.DBTX) *PostgresLeadStore {
	return &PostgresLeadStore{db: db}
}

// GetLead retrieves a lead by ID.
func (s *PostgresLeadStore) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, organization_id, email, phone, first_name, last_name,
		       company, job_title, source, email_opens, email_clicks,
		       site_visits, form_submissions, last_activity_at, tags,
		       score, created_at, updated_at
		FROM leads
		WHERE id = $1
	`

	var (
		lead domain.Lead
		tags []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&lead.ID,
		&lead.OrganizationID,
		&lead.Email,
		&lead.Phone,
		&lead.FirstName,
		&lead.LastName,
		&lead.Company,
		&lead.JobTitle,
		&lead.Source,
		&lead.EmailOpens,
		&lead.EmailClicks,
		&lead.SiteVisits,
		&lead.FormSubmissions,
		&lead.LastActivityAt,
		&tags,
		&lead.Score,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrLeadNotFound
		}
		log.Error("failed to get lead", "lead_id", id, "error", err)
		return nil, fmt.Errorf("failed to get lead: %w", MapError(err))
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &lead.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lead tags: %w", err)
		}
	}
	return &lead, nil
}

// UpdateLeadScore stores a computed score and derived tag set.
func (s *PostgresLeadStore) UpdateLeadScore(ctx context.Context, id uuid.UUID, score int, tags []string) error {
	log := logger.FromContext(ctx)

	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal lead tags: %w", err)
	}

	query := `
		UPDATE leads
		SET score = $1, tags = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, score, encoded, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update lead score", "lead_id", id, "error", err)
		return fmt.Errorf("failed to update lead score: %w", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrLeadNotFound)
}
