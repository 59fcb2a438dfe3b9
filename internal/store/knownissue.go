package store

import (
	"context"

	"github.com/driftware/flowengine/internal/domain"
)

// KnownIssueStore provides read access to the known-issues registry
// consulted by the dead-letter pipeline.
type KnownIssueStore interface {
	// FindMatchingIssue returns the first active known issue whose
	// pattern matches the error message, or ErrNotFound when none does.
	FindMatchingIssue(ctx context.Context, classification domain.Classification, errorMessage string) (*domain.KnownIssue, error)
}
