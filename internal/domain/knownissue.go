package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workaround is the documented fix attached to a known issue. Applying
// it transforms the failed job's payload before retrying.
type Workaround struct {
	// Description explains the fix for operators.
	Description string `json:"description"`

	// SetTriggerData merges these keys into the job's trigger data
	// before the retry.
	SetTriggerData map[string]interface{} `json:"set_trigger_data,omitempty"`
}

// KnownIssue is a documented failure pattern with an optional automated
// workaround. The dead-letter pipeline consults the registry before
// deciding on a recovery action.
type KnownIssue struct {
	ID             uuid.UUID      `json:"id"`
	Pattern        string         `json:"pattern"`
	Classification Classification `json:"classification"`
	Description    string         `json:"description"`
	Workaround     *Workaround    `json:"workaround,omitempty"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ManualTaskStatus represents the state of an operator task.
type ManualTaskStatus string

// Possible manual task status values
const (
	ManualTaskStatusOpen     ManualTaskStatus = "open"
	ManualTaskStatusResolved ManualTaskStatus = "resolved"
)

// ManualTask is the operator-facing record created when a dead-letter
// job cannot be recovered automatically.
type ManualTask struct {
	ID              uuid.UUID        `json:"id"`
	DeadLetterJobID uuid.UUID        `json:"dead_letter_job_id"`
	OrganizationID  uuid.UUID        `json:"organization_id,omitempty"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        AlertSeverity    `json:"severity"`
	Status          ManualTaskStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}
