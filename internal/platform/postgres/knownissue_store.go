package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/store"
)

// PostgresKnownIssueStore implements the store.KnownIssueStore
// interface using PostgreSQL.
type PostgresKnownIssueStore struct {
	db store.DBTX
}

// NewPostgresKnownIssueStore creates a new PostgresKnownIssueStore.
func NewPostgresKnownIssueStore(db store.DBTX) *PostgresKnownIssueStore {
	return &PostgresKnownIssueStore{db: db}
}

// FindMatchingIssue returns the first active known issue for the
// classification whose pattern appears in the error message. Matching
// is case-insensitive substring containment, evaluated oldest issue
// first so established workarounds win over newer ones.
func (s *PostgresKnownIssueStore) FindMatchingIssue(ctx context.Context, classification domain.Classification, errorMessage string) (*domain.KnownIssue, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, pattern, classification, description, workaround, active, created_at
		FROM known_issues
		WHERE active = TRUE AND classification = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, classification)
	if err != nil {
		log.Error("failed to query known issues", "classification", classification, "error", err)
		return nil, fmt.Errorf("failed to query known issues: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	msg := strings.ToLower(errorMessage)
	for rows.Next() {
		var (
			issue      domain.KnownIssue
			workaround []byte
		)
		if err := rows.Scan(
			&issue.ID,
			&issue.Pattern,
			&issue.Classification,
			&issue.Description,
			&workaround,
			&issue.Active,
			&issue.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan known issue row: %w", MapError(err))
		}
		if !strings.Contains(msg, strings.ToLower(issue.Pattern)) {
			continue
		}
		if len(workaround) > 0 {
			if err := json.Unmarshal(workaround, &issue.Workaround); err != nil {
				return nil, fmt.Errorf("failed to unmarshal workaround: %w", err)
			}
		}
		return &issue, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known issue rows: %w", err)
	}
	return nil, store.ErrNotFound
}
